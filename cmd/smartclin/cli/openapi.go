package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/handler"
	"github.com/smartclin/smart-app-clinic-sub000/internal/openapi"
	"github.com/smartclin/smart-app-clinic-sub000/internal/rpc"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		serverURL  string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the procedure catalogue as OpenAPI",
		Long: `Generate an OpenAPI 3.1 document for every remote procedure. Each operation
records its exposure (public, authenticated, role-restricted), the role and
permission statement it requires, and whether it needs a fresh session.`,
		Example: `  smartclin openapi                 # print to stdout
  smartclin openapi -o openapi.json # write to file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(outputFile, serverURL)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to file instead of stdout")
	cmd.Flags().StringVar(&serverURL, "server-url", "", "Server URL recorded in the document")

	return cmd
}

func runOpenAPI(outputFile, serverURL string) error {
	// The catalogue only describes procedures; it never calls them.
	reg := rpc.NewRegistry(gate.New(gate.Options{}))
	handler.NewProcedures(nil, nil).Register(reg)

	info := openapi.DefaultInfo(versionString())
	info.ServerURL = serverURL
	doc, err := openapi.Generate(reg.Procedures(), info)
	if err != nil {
		return fmt.Errorf("generate openapi: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi: %w", err)
	}
	if outputFile == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Printf("Wrote %d operations to %s\n", len(reg.Procedures()), outputFile)
	return nil
}
