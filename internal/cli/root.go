package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noah-isme/cliniclink-api/internal/rubric"
)

const (
	keyAPIURL = "api-url"
	keyToken  = "token"
	keyFile   = "file"
)

// app carries the resolved settings shared by every command.
type app struct {
	v          *viper.Viper
	httpClient *http.Client
}

// NewRootCommand assembles the rubricctl command tree. httpClient may be nil.
func NewRootCommand(httpClient *http.Client) *cobra.Command {
	a := &app{v: viper.New(), httpClient: httpClient}
	a.v.SetEnvPrefix("RUBRICCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "rubricctl",
		Short:         "Author ClinicLink evaluation templates from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String(keyAPIURL, "http://localhost:8080/api/v1", "ClinicLink API base URL (RUBRICCTL_API_URL)")
	flags.String(keyToken, "", "Bearer token (RUBRICCTL_TOKEN)")
	flags.StringP(keyFile, "f", DefaultDraftFile, "Rubric draft file (RUBRICCTL_FILE)")
	for _, key := range []string{keyAPIURL, keyToken, keyFile} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		a.newCmd(),
		a.showCmd(),
		a.setCmd(),
		a.categoryCmd(),
		a.criterionCmd(),
		a.scaleCmd(),
		a.validateCmd(),
		a.payloadCmd(),
		a.pullCmd(),
		a.submitCmd(),
		a.rateCmd(),
	)
	return root
}

// Execute runs rubricctl and returns the process exit code. Errors print as one line.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(nil)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %s\n", firstLine(err.Error()))
		return 1
	}
	return 0
}

func (a *app) draftPath() string {
	if path := a.v.GetString(keyFile); path != "" {
		return path
	}
	return DefaultDraftFile
}

func (a *app) client() *Client {
	return NewClient(a.v.GetString(keyAPIURL), a.v.GetString(keyToken), a.httpClient)
}

// edit loads the draft, applies fn and saves the result.
func (a *app) edit(fn func(state *rubric.FormState, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		state, err := LoadDraft(a.draftPath())
		if err != nil {
			return err
		}
		if err := fn(state, args); err != nil {
			return err
		}
		return SaveDraft(a.draftPath(), state)
	}
}

// position converts a 1-based CLI position into a slice index.
func position(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, fmt.Errorf("invalid position %q", arg)
	}
	return n - 1, nil
}

func firstLine(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}

// Main is the entrypoint used by cmd/rubricctl.
func Main() {
	os.Exit(Execute(os.Args[1:], os.Stdout, os.Stderr))
}
