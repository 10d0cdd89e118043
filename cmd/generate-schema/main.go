package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/marmos91/nnfs/pkg/config"
)

func main() {
	schemaJSON, err := generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}

// generate reflects config.Config into an indented JSON schema. Keys follow
// the mapstructure tags viper decodes with.
func generate() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:        "string",
					Description: "Go duration, e.g. 30s or 5m",
					Pattern:     `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^0$`,
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "NNFS Configuration"
	schema.Description = "Configuration schema for the NNFS server"
	schema.Version = "1.0.0"

	return json.MarshalIndent(schema, "", "  ")
}
