package mock

// Addresses of the servers of Hierarchy.
const (
	RootServer    = "198.41.0.4:53"
	TLDServer     = "192.5.6.30:53"
	ExampleServer = "192.0.2.53:53"
	OtherServer   = "192.0.2.54:53"
)

// Hierarchy returns a small internet:
//
//	.            root, delegates com. and net. with glue
//	com. net.    delegate example.com. with glue, glueless.com. and
//	             other.net. without glue, loop.com. to a server inside itself
//	             and upward.com. to a server that refers back up
//	example.com. answers www, alias, outside, loop1/loop2 and mail
//	other.net.   served by the example.com. server
//	glueless.com. served by ns.other.net.
func Hierarchy() *Upstream {
	u := NewUpstream()

	u.Serve(RootServer, ".",
		". 86400 IN SOA a.root-servers.net. nstld.verisign-grs.com. 2024010100 1800 900 604800 86400",
		"com. 172800 IN NS a.gtld-servers.net.",
		"net. 172800 IN NS a.gtld-servers.net.",
		"a.gtld-servers.net. 172800 IN A 192.5.6.30",
	)

	u.Serve(TLDServer, "com.",
		"com. 900 IN SOA a.gtld-servers.net. nstld.verisign-grs.com. 1 1800 900 604800 86400",
		"example.com. 172800 IN NS ns1.example.com.",
		"ns1.example.com. 172800 IN A 192.0.2.53",
		"glueless.com. 172800 IN NS ns.other.net.",
		"loop.com. 172800 IN NS ns.loop.com.",
		"upward.com. 172800 IN NS ns1.example.com.",
	)

	u.Serve(TLDServer, "net.",
		"net. 900 IN SOA a.gtld-servers.net. nstld.verisign-grs.com. 1 1800 900 604800 86400",
		"a.gtld-servers.net. 172800 IN A 192.5.6.30",
		"other.net. 172800 IN NS ns1.example.com.",
	)

	u.Serve(ExampleServer, "example.com.",
		"example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 7200 900 1209600 300",
		"example.com. 3600 IN NS ns1.example.com.",
		"ns1.example.com. 3600 IN A 192.0.2.53",
		"www.example.com. 300 IN A 93.184.216.34",
		"alias.example.com. 300 IN CNAME www.example.com.",
		"outside.example.com. 300 IN CNAME www.glueless.com.",
		"loop1.example.com. 300 IN CNAME loop2.example.com.",
		"loop2.example.com. 300 IN CNAME loop1.example.com.",
		"mail.example.com. 300 IN MX 10 mx.example.com.",
		"mx.example.com. 300 IN A 192.0.2.25",
	)

	u.Serve(ExampleServer, "other.net.",
		"other.net. 3600 IN SOA ns1.example.com. hostmaster.other.net. 1 7200 900 1209600 300",
		"ns.other.net. 3600 IN A 192.0.2.54",
	)

	u.Serve(ExampleServer, "upward.com.",
		"upward.com. 3600 IN SOA ns1.example.com. hostmaster.upward.com. 1 7200 900 1209600 300",
		"com. 172800 IN NS a.gtld-servers.net.",
	)

	u.Serve(OtherServer, "glueless.com.",
		"glueless.com. 3600 IN SOA ns.other.net. hostmaster.glueless.com. 1 7200 900 1209600 300",
		"www.glueless.com. 300 IN A 198.51.100.7",
	)

	return u
}
