package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/graft-sh/graft/auth/localtoken"
)

func dispatchToken(args []string) int {
	if len(args) == 0 {
		return fail("token requires a subcommand: keygen | issue")
	}
	switch args[0] {
	case "keygen":
		return tokenKeygen(args[1:])
	case "issue":
		return tokenIssue(args[1:])
	default:
		return fail("token: unknown subcommand %q", args[0])
	}
}

func tokenKeygen(args []string) int {
	fs := flag.NewFlagSet("token keygen", flag.ContinueOnError)
	keyFile := fs.String("key-file", "", "path to write the generated symmetric key to")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *keyFile == "" {
		return fail("-key-file is required")
	}

	key, err := localtoken.GenerateKey()
	if err != nil {
		return failErr("generate key", err)
	}
	if err := os.WriteFile(*keyFile, key, 0o600); err != nil {
		return failErr("write key file", err)
	}
	fmt.Printf("wrote key to %s\n", *keyFile)
	return 0
}

func tokenIssue(args []string) int {
	fs := flag.NewFlagSet("token issue", flag.ContinueOnError)
	keyFile := fs.String("key-file", "", "path to the symmetric key to sign with")
	subject := fs.String("subject", "", "subject to embed in the issued token")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *keyFile == "" {
		return fail("-key-file is required")
	}
	if *subject == "" {
		return fail("-subject is required")
	}

	key, err := os.ReadFile(*keyFile)
	if err != nil {
		return failErr("read key file", err)
	}
	authenticator, err := localtoken.New(key)
	if err != nil {
		return failErr("build authenticator", err)
	}
	token, err := authenticator.Issue(*subject)
	if err != nil {
		return failErr("issue token", err)
	}
	fmt.Println(base64.StdEncoding.EncodeToString(token))
	return 0
}
