// Package aggregate flattens nested per-device detail documents into the
// homogeneous record lists the bulk endpoints serve. Upstream documents are
// schema-free and inconsistently named (camelCase, PascalCase, snake_case), so
// extraction works through ordered fallback lists rather than fixed fields.
package aggregate

import "fmt"

// Document is one nested per-entity detail document as decoded from upstream.
type Document map[string]any

// Record is one flattened top-level record. Natural-key uniqueness is the
// producer's responsibility; nothing downstream deduplicates.
type Record map[string]any

// Extractor attempts to pull a sub-collection out of a document. Extractors
// are tried in order; the first non-empty result wins.
type Extractor func(Document) ([]any, bool)

// Field returns an Extractor for a single field name holding a list.
func Field(name string) Extractor {
	return func(doc Document) ([]any, bool) {
		v, ok := doc[name]
		if !ok {
			return nil, false
		}
		items, ok := v.([]any)
		if !ok || len(items) == 0 {
			return nil, false
		}
		return items, true
	}
}

// Fields builds one Extractor per name, in the given order.
func Fields(names ...string) []Extractor {
	extractors := make([]Extractor, 0, len(names))
	for _, name := range names {
		extractors = append(extractors, Field(name))
	}
	return extractors
}

var (
	deviceIDFields   = []string{"deviceId", "DeviceId", "device_id", "id"}
	serialFields     = []string{"serialNumber", "SerialNumber", "serial_number", "serial"}
	deviceNameFields = []string{"deviceName", "DeviceName", "device_name", "name", "hostname"}
)

// Flattener turns device documents into flat records for one endpoint. It is
// stateless: the same input list always yields the same output list, in input
// order.
type Flattener struct {
	collection []Extractor
}

// NewFlattener builds a Flattener whose sub-collection is located by the given
// extractors, tried in order per document.
func NewFlattener(collection ...Extractor) *Flattener {
	return &Flattener{collection: collection}
}

// Flatten extracts each document's sub-collection and lifts every item to a
// top-level Record stamped with its parent's identifiers and a synthetic
// "<parentID>_<index>" id. A document with no matching or empty sub-collection
// contributes nothing; that is degradation, not an error.
func (f *Flattener) Flatten(docs []Document) []Record {
	var out []Record
	for _, doc := range docs {
		items, ok := f.extract(doc)
		if !ok {
			continue
		}
		parentID := firstString(doc, deviceIDFields)
		serial := firstString(doc, serialFields)
		name := firstString(doc, deviceNameFields)
		if parentID == "" {
			parentID = serial
		}
		for i, item := range items {
			record := make(Record)
			if fields, ok := item.(map[string]any); ok {
				for k, v := range fields {
					record[k] = v
				}
			} else {
				record["value"] = item
			}
			record["id"] = fmt.Sprintf("%s_%d", parentID, i)
			record["deviceId"] = parentID
			record["serialNumber"] = serial
			record["deviceName"] = name
			out = append(out, record)
		}
	}
	return out
}

func (f *Flattener) extract(doc Document) ([]any, bool) {
	for _, extract := range f.collection {
		if extract == nil {
			continue
		}
		if items, ok := extract(doc); ok {
			return items, true
		}
	}
	return nil, false
}

// DeviceRecords lifts whole device documents into records, for endpoints where
// the device itself is the unit rather than a sub-collection. Identifier
// fields are normalized onto the camelCase names the dashboard expects.
func DeviceRecords(docs []Document) []Record {
	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		record := make(Record, len(doc)+3)
		for k, v := range doc {
			record[k] = v
		}
		if id := firstString(doc, deviceIDFields); id != "" {
			record["deviceId"] = id
		}
		if serial := firstString(doc, serialFields); serial != "" {
			record["serialNumber"] = serial
		}
		if name := firstString(doc, deviceNameFields); name != "" {
			record["deviceName"] = name
		}
		out = append(out, record)
	}
	return out
}

// EntityID resolves a document's natural device identifier, falling back to
// the serial number when no explicit id field is present.
func EntityID(doc Document) string {
	if id := firstString(doc, deviceIDFields); id != "" {
		return id
	}
	return firstString(doc, serialFields)
}

func firstString(doc Document, names []string) string {
	for _, name := range names {
		if v, ok := doc[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
