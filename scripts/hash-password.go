//go:build ignore

// Generates the bcrypt value for ADMIN_PASSWORD_HASH.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const adminHashCost = 12

func main() {
	var password string
	switch {
	case len(os.Args) >= 2:
		password = os.Args[1]
	default:
		// Read from stdin so the password stays out of shell history.
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go <password>\n")
			fmt.Fprintf(os.Stderr, "   or: echo -n <password> | go run scripts/hash-password.go\n")
			os.Exit(1)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if password == "" {
		fmt.Fprintf(os.Stderr, "Error: empty password\n")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), adminHashCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(hash))
}
