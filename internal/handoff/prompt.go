package handoff

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ClientScriptName is the file the analysis agent is asked to produce.
const ClientScriptName = "api_client.py"

// BuildPrompt renders the instructions handed to the analysis agent.
func BuildPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze the HAR archive at %s and reverse engineer the APIs it captured.\n\n", req.HARPath)
	fmt.Fprintf(&b, "The user's goal: %s\n\n", req.Prompt)

	b.WriteString("Steps:\n")
	b.WriteString("1. Read the archive and list the API calls the page made.\n")
	b.WriteString("2. Work out how requests are authenticated (cookies, tokens, headers).\n")
	b.WriteString("3. Describe the request and response shape of each endpoint.\n")
	b.WriteString("4. Write a Python client that reproduces those calls.\n\n")

	b.WriteString("The client must:\n")
	b.WriteString("- use the requests library\n")
	b.WriteString("- handle authentication\n")
	b.WriteString("- expose one function per endpoint, with type hints and docstrings\n")
	b.WriteString("- report errors instead of failing silently\n\n")

	fmt.Fprintf(&b, "Save the client to %s and add a short README.md next to it describing the endpoints.\n",
		filepath.Join(req.ScriptsDir, ClientScriptName))
	b.WriteString("Run the client to check it works and fix it if it does not, up to 5 attempts.\n")
	b.WriteString("The site may use bot detection. If plain requests are blocked, driving the user's real browser over CDP with Playwright is acceptable.\n")

	if extra := strings.TrimSpace(req.Extra); extra != "" {
		fmt.Fprintf(&b, "\nAdditional instructions:\n%s\n", extra)
	}
	return b.String()
}
