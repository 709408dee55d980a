// Package ldapwire implements the client-side LDAP protocol engine: the BER
// wire codec, per-connection request/response correlation, a bounded
// connection pool with failover, and the search-traversal and retry logic
// that composes them.
//
// The package deliberately stops at the protocol layer. It hands decoded
// entries to callers as plain DN/attribute values and decodes response
// controls through a registry, but it does not map entries to objects,
// interpret schema, or cache directory data.
//
// # Basic Usage
//
//	config := ldapwire.Config{
//		Address:      "ldap.example.com:389",
//		BindDN:       "cn=admin,dc=example,dc=com",
//		BindPassword: "secret",
//	}
//
//	client, err := ldapwire.New(&config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	req := ldapwire.NewSearchRequest("dc=example,dc=com",
//		ldapwire.ScopeWholeSubtree, ldapwire.FilterPresent("objectClass"),
//		"cn", "mail")
//
//	result, err := client.SearchPaged(ctx, req, 100, ldapwire.SearchCallbacks{
//		OnEntry: func(e *ldapwire.Entry) { fmt.Println(e.DN) },
//	})
//
// # Failure Model
//
// Result codes are classified into three classes: success, errors that
// leave the connection usable (for example "no such object"), and
// connection-fatal errors (timeouts, decode failures, server down). A
// connection-fatal failure replaces the connection and retries the
// identical request exactly once; there is never a third attempt.
//
// Errors surface through a small set of sentinels (ErrTimeout,
// ErrPoolExhausted, ErrCancelled, ...) that work with errors.Is, optionally
// wrapped in *Error for operation context.
package ldapwire
