// Command nextprismd is the operator-facing binary for Next-Prism: it loads
// the YAML config, wires the ingestion core's collaborators together, and
// exposes run/rescan/stats subcommands over them. It is the only part of
// this repository allowed to call os.Exit or parse configuration files
// (SPEC_FULL.md §2.1, §2.2); everything under internal/ is a library.
package main

func main() {
	Execute()
}
