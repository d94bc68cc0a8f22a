// Package events provides a Go client for the UniFi Network controller's
// event stream.
//
// The client logs in with local controller credentials, opens the site's
// events WebSocket and keeps it open: a "ping" frame goes out every 15
// seconds, and a lost connection is re-established after a fixed 5 second
// delay, re-logging in first, until Close is called.
//
// # Controller Flavors
//
// Standalone Network applications serve the API under /api and the stream at
//
//	wss://<host>:8443/wss/s/<site>/events
//
// UniFi OS consoles (UDM, UCG, Cloud Key Gen2+) proxy both under
// /proxy/network and require a CSRF token. The flavor is detected on first
// login unless ClientConfig.Flavor fixes it.
//
// # Event Names
//
// Each record of a frame's data array is classified by its key. A key of the
// form EVT_<GG>_<Action> fires "<gg>.<action>", e.g. EVT_WU_Connected fires
// "wu.connected". Client (dis)association keys additionally fire "connected"
// or "disconnected". Every classified record also fires "event". Records with
// a key outside that grammar fire "unclassified"; records without a key are
// dropped.
//
// # Basic Usage
//
//	client, err := events.New("192.168.1.1", "admin", "password")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.On("connected", func(ev events.Event) {
//	    fmt.Printf("%s joined %s\n", ev.Raw.String("hostname"), ev.Raw.String("ssid"))
//	})
//
//	client.OnStatus(func(st events.Status) {
//	    log.Printf("stream %s: %s", st.Kind, st.Detail)
//	})
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// # Error Handling
//
// Login failures are *AuthError values and match ErrAuth plus one of
// ErrInvalidCredentials, ErrUnreachable or ErrUnexpectedResponse. Stream
// failures never surface as return values; they arrive on the status channel
// as *StreamError or *ProtocolError.
//
// # REST Calls
//
// Get, Post, Put and Delete reuse the session: they probe it, log in if
// needed, and re-login once if the controller rejects the cookie.
package events
