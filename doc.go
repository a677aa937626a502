/*
Package main implements simpledns - a small authoritative and recursive DNS
server for a home network.

simpledns answers every query in one of two ways:

  - From local overrides: custom records (with *.suffix wildcards), hosts
    file style blocklists and ordered regular expression rules that block,
    rewrite or exempt names.
  - By iterative resolution from the root servers, following referrals and
    aliases, with an in-memory cache that is snapshotted to disk.

Architecture:

Each request passes a chain of middleware. The order is fixed:

 1. Recovery - Panic recovery, answered with SERVFAIL
 2. Metrics - Prometheus query counters and latency
 3. Dnstap - Binary query and response logging to a unix socket
 4. AccessList - IP-based access control
 5. RateLimit - Query rate limiting per client
 6. Override - Local records, blocks and rewrites
 7. Cache - Cached answers, filled on the way back
 8. Recursion - Iterative resolution

Configuration:

simpledns reads a TOML file (default: simpledns.conf), generated with
defaults when missing. Changes to the file reload the override rules
without a restart.

Usage:

	simpledns [flags]
	simpledns [command]

Available Commands:

	serve       Run the DNS server (default)
	query       Resolve a name with the local configuration and print the answer
	records     Print the override rules of the configuration
	cache       Print the entries of the cache snapshot
	version     Print version information

Flags:

	-c, --config string   Location of config file (default "simpledns.conf")
	-h, --help            Help for simpledns

Example:

	# Start with default config
	simpledns

	# Resolve a name once
	simpledns query www.example.com AAAA
*/
package main // import "github.com/jmeaster30/simpledns"
