package normalize

import "github.com/tidwall/gjson"

// Shape is the closed set of payload layouts the normalizer understands.
type Shape string

const (
	ShapeEnvelope Shape = "business-api"
	ShapeDirect   Shape = "direct"
	ShapeGeneric  Shape = "generic"
	ShapeUnknown  Shape = "unknown"
)

// detect classifies a payload by structural predicates, in priority
// order, and returns the node the shape's extractor should read from.
//
// Batch exports wrap the envelope as {"metaData": {...}}; the wrapper is
// peeled off before classification.
func detect(root gjson.Result) (Shape, gjson.Result) {
	if !root.IsObject() {
		return ShapeUnknown, root
	}

	if wrapped := root.Get("metaData"); wrapped.IsObject() && wrapped.Get("entry").IsArray() {
		return ShapeEnvelope, wrapped
	}
	if root.Get("entry").IsArray() {
		return ShapeEnvelope, root
	}
	if present(root.Get("messages")) || present(root.Get("statuses")) {
		return ShapeDirect, root
	}
	return ShapeGeneric, root
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}
