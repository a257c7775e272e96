package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/digitive/crypt"
)

// test_crypt hashes a candidate password against a salt (or an
// existing hash's own salt) using the pure Go DES-crypt implementation
// that the Windows build of crypt() uses (builtins/crypto_windows.go),
// and reports whether it matches a stored hash.
func main() {
	password := flag.String("password", "", "password to hash or verify")
	salt := flag.String("salt", "", "explicit 2-char salt (defaults to the stored hash's own salt)")
	stored := flag.String("stored", "", "stored hash to verify against (omit to just print a new hash)")
	flag.Parse()

	if *password == "" {
		fmt.Fprintln(os.Stderr, "usage: test_crypt -password <pw> [-salt <ab>] [-stored <hash>]")
		os.Exit(1)
	}

	s := *salt
	if s == "" {
		if *stored != "" && len(*stored) >= 2 {
			s = (*stored)[:2]
		} else {
			s = "AB"
		}
	}

	hash, err := crypt.Crypt(*password, s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crypt error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("crypt(%q, %q) = %s\n", *password, s, hash)
	if *stored != "" {
		fmt.Printf("match against %q: %v\n", *stored, hash == *stored)
	}
}
