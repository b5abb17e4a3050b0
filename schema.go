package main

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const catalogSchema string = `{
  "type": "object",
  "required": ["total_count", "icons"],
  "properties": {
    "total_count": {"type": "integer"},
    "icons": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["icon_id", "tags", "raster_sizes"],
        "properties": {
          "icon_id": {"type": "integer"},
          "tags": {"type": "array", "items": {"type": "string"}},
          "raster_sizes": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["size", "size_width", "size_height", "formats"],
              "properties": {
                "size": {"type": "integer"},
                "size_width": {"type": "integer"},
                "size_height": {"type": "integer"},
                "formats": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["format", "preview_url", "download_url"],
                    "properties": {
                      "format": {"type": "string"},
                      "preview_url": {"type": "string"},
                      "download_url": {"type": "string"}
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

var catalogSchemaLoader = mustSchema(catalogSchema)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return schema
}

// validateCatalog checks a raw search response against the catalog schema.
func validateCatalog(body []byte) error {
	res, err := catalogSchemaLoader.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema mismatch: %s", strings.Join(msgs, "; "))
}
