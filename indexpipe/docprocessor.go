package indexpipe

import "fmt"

// ProcessedDoc is a document that passed mapping validation, plus the tag
// candidates the packager will later cap and fold.
type ProcessedDoc struct {
	Fields        map[string]interface{} `json:"fields"`
	TagCandidates map[string]string      `json:"tagCandidates,omitempty"` // field -> value
	Timestamp     *int64                 `json:"timestamp,omitempty"`
}

// DocFailure records a per-document processing failure; the pipeline
// continues past these rather than failing the whole batch.
type DocFailure struct {
	Doc RawDoc
	Err error
}

// DocMapping is the minimal subset of an index's doc-mapping config the
// processor enforces: required fields must be present, and tag fields are
// the ones contributing to split tag sets.
type DocMapping struct {
	RequiredFields []string
	TagFields      []string
	TimestampField string
}

// DocProcessor parses/validates/transforms raw documents against a
// DocMapping.
type DocProcessor struct {
	Mapping DocMapping
}

func NewDocProcessor(mapping DocMapping) *DocProcessor {
	return &DocProcessor{Mapping: mapping}
}

func (p *DocProcessor) Process(batch *RawDocBatch) (processed []ProcessedDoc, failures []DocFailure) {
	for _, doc := range batch.Docs {
		pd, err := p.processOne(doc)
		if err != nil {
			failures = append(failures, DocFailure{Doc: doc, Err: err})
			continue
		}
		processed = append(processed, pd)
	}
	return processed, failures
}

func (p *DocProcessor) processOne(doc RawDoc) (ProcessedDoc, error) {
	for _, f := range p.Mapping.RequiredFields {
		if _, ok := doc.Fields[f]; !ok {
			return ProcessedDoc{}, fmt.Errorf("missing required field %q", f)
		}
	}
	tags := make(map[string]string)
	for _, f := range p.Mapping.TagFields {
		if v, ok := doc.Fields[f]; ok {
			tags[f] = fmt.Sprintf("%v", v)
		}
	}
	pd := ProcessedDoc{Fields: doc.Fields, TagCandidates: tags}
	if tf := p.Mapping.TimestampField; tf != "" && doc.Fields[tf] != nil {
		switch v := doc.Fields[tf].(type) {
		case int64:
			ts := v
			pd.Timestamp = &ts
		case float64:
			ts := int64(v)
			pd.Timestamp = &ts
		case int:
			ts := int64(v)
			pd.Timestamp = &ts
		default:
			return ProcessedDoc{}, fmt.Errorf("field %q is not a timestamp", tf)
		}
	}
	return pd, nil
}
