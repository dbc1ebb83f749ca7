// Command tokenhash prints the Argon2id encoding of an admin API token read
// from stdin, for use as ADMIN_API_TOKEN or AUDITOR_API_TOKEN.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/smallbiznis/referralledger/internal/authorization/tokenhash"
)

func main() {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(os.Stderr, "tokenhash: read token from stdin:", err)
		os.Exit(1)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		fmt.Fprintln(os.Stderr, "tokenhash: empty token")
		os.Exit(1)
	}

	encoded, err := tokenhash.Hash(token)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokenhash:", err)
		os.Exit(1)
	}
	fmt.Println(encoded)
}
