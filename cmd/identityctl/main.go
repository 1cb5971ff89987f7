// Command identityctl runs operator tasks against a goIdentity deployment:
// schema migration, purging expired code slots, signing key generation, and
// configuration checks.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
