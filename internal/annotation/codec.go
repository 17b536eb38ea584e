package annotation

import (
	"encoding/json"
	"fmt"
)

// formatVersion is written into every blob.
const formatVersion = 1

type document struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// Encode serializes the records of one tool.
func Encode(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(document{Version: formatVersion, Records: records})
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return data, nil
}

// Decode parses a blob written by Encode. A nil or empty blob decodes to no
// records. Records that fail validation are dropped and returned separately
// so the caller can report them.
func Decode(data []byte) (records []Record, invalid []error, err error) {
	if len(data) == 0 {
		return nil, nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode records: %w", err)
	}
	if doc.Version > formatVersion {
		return nil, nil, fmt.Errorf("decode records: unsupported version %d", doc.Version)
	}

	records = make([]Record, 0, len(doc.Records))
	for _, rec := range doc.Records {
		if err := rec.Validate(); err != nil {
			invalid = append(invalid, err)
			continue
		}
		records = append(records, rec)
	}
	return records, invalid, nil
}
