// Command ruletest runs the extraction stages against saved email samples and
// prints what each stage decided. Used when authoring new rules against
// bodies collected in the review log.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sbitra/mailmint/pkg/api"
	"github.com/sbitra/mailmint/pkg/decoder"
	"github.com/sbitra/mailmint/pkg/gatekeeper"
	"github.com/sbitra/mailmint/pkg/logging"
	"github.com/sbitra/mailmint/pkg/normalize"
	"github.com/sbitra/mailmint/pkg/rules"
)

type report struct {
	File        string            `json:"file"`
	Sender      string            `json:"sender,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Accepted    bool              `json:"accepted"`
	SkipReason  string            `json:"skip_reason,omitempty"`
	Rule        string            `json:"rule,omitempty"`
	Captures    map[string]string `json:"captures,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Transaction *api.Transaction  `json:"transaction,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func main() {
	rulesFile := flag.String("rules", "", "rules YAML file (default: embedded rules)")
	bodyMode := flag.Bool("body", false, "treat inputs as bare body text instead of raw RFC 822 messages")
	listRules := flag.Bool("list", false, "print rule names in match order and exit")
	ruleName := flag.String("rule", "", "test only the named rule, bypassing the gatekeeper and first-match selection")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ruletest [flags] <file>...\n\nUse \"-\" as a file argument to read from stdin.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logging.Setup(logging.DefaultConfig())

	var registry *rules.Registry
	var err error
	if *rulesFile != "" {
		registry, err = rules.LoadFile(*rulesFile)
	} else {
		registry, err = rules.LoadEmbedded()
	}
	if err != nil {
		logger.Error("loading rules", "error", err)
		os.Exit(1)
	}

	if *listRules {
		for _, name := range registry.Names() {
			fmt.Println(name)
		}
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var only *rules.Rule
	if *ruleName != "" {
		only, _ = registry.Rule(*ruleName)
		if only == nil {
			logger.Error("unknown rule", "rule", *ruleName)
			os.Exit(1)
		}
	}

	gate := gatekeeper.New(gatekeeper.DefaultConfig(), logger)
	normalizer := normalize.New(normalize.DefaultConfig(), logger)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	failed := false
	for _, path := range flag.Args() {
		rep := inspect(path, *bodyMode, only, gate, registry, normalizer)
		if rep.Error != "" || !rep.Accepted || rep.Rule == "" {
			failed = true
		}
		if err := enc.Encode(rep); err != nil {
			logger.Error("encoding report", "error", err)
			os.Exit(1)
		}
	}

	if failed {
		os.Exit(1)
	}
}

func inspect(path string, bodyMode bool, only *rules.Rule, gate *gatekeeper.Gatekeeper, registry *rules.Registry, normalizer *normalize.Normalizer) report {
	rep := report{File: path}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		rep.Error = err.Error()
		return rep
	}

	var email api.DecodedEmail
	if bodyMode {
		email = api.DecodedEmail{Body: decoder.CollapseWhitespace(string(data))}
	} else {
		email = decoder.Decode(data)
	}
	rep.Sender = email.Sender
	rep.Subject = email.Subject

	var match *rules.Match
	if only != nil {
		captures, ok := only.Test(email.Body)
		rep.Accepted = ok
		if !ok {
			return rep
		}
		match = &rules.Match{Rule: only.Name, Captures: captures, Static: only.Static}
	} else {
		ok, reason := gate.Accept(email)
		rep.Accepted = ok
		if !ok {
			rep.SkipReason = reason
			return rep
		}

		match, ok = registry.Select(email.Body)
		if !ok {
			return rep
		}
	}
	rep.Rule = match.Rule
	rep.Captures = match.Captures
	rep.Destination = string(gate.Destination(email))

	txn, err := normalizer.Normalize(match, email, time.Now())
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Transaction = &txn

	return rep
}
