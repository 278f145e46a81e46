package flowgraph

// flowSchema describes the accepted wire shape of a flow document. Per-type field
// checks happen while decoding each node.
const flowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "start_node_id", "nodes"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "start_node_id": {"type": "string", "minLength": 1},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "enum": ["stage", "condition", "end"]},
          "branches": {
            "type": "object",
            "additionalProperties": {"type": "string", "minLength": 1}
          }
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "label": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  }
}`
