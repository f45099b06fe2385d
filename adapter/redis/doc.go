// Package redis provides the Redis store for tincan.
//
// Store name: "redis"
//
// Config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - username, password: ACL credentials (optional)
// - db: database index (default 0)
// - tls: enable TLS (default false)
// - tls_server_name: SNI/verification name (optional)
// - pool_size: connection pool size (default 10)
// - min_idle_conns: idle connections kept open (default 2)
// - max_retries: command retries (default 3)
// - dial_timeout: connect timeout (default 5s)
//
// Example builder usage:
//
//	receiver, _ := tincan.NewBuilder().
//	    WithStore(redis.StoreName, map[string]any{
//	        "addr": "localhost:6379",
//	        "db":   2,
//	    }).
//	    WithNamespace("data").
//	    WithClientName("worker-1").
//	    Listen("widget", handleWidget).
//	    BuildReceiver()
package redis
