// Package cmd implements the kstorage command line interface.
//
// Subpackages:
//
//   - serve: runs a server hosting one store per shard id
//   - group: client commands (alloc, size, write, read, rm, ls, digest, info, perf)
//   - util: flag, environment and config file handling shared by the commands
//
// See kstorage --help for a list of all commands.
package cmd
