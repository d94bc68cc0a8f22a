package events_test

import (
	"fmt"
	"time"

	"github.com/lexfrei/go-unifi-events/api/events"
)

func ExampleNew() {
	client, _ := events.New("unifi.local", "admin", "password")

	_ = client // call client.Connect to start the stream
	// Output:
}

func ExampleNewWithConfig() {
	// A UniFi OS console on port 443 following a non-default site
	client, _ := events.NewWithConfig(&events.ClientConfig{
		Host:              "192.168.1.1",
		Port:              443,
		Username:          "admin",
		Password:          "password",
		Site:              "office",
		Flavor:            events.FlavorUnifiOS,
		ReconnectInterval: 10 * time.Second,
	})

	_ = client
	// Output:
}

func ExampleClient_On() {
	client, _ := events.New("unifi.local", "admin", "password")

	// Alias names cover every connect key: wireless, wired, guest, LAN.
	_, _ = client.On(events.NameConnected, func(ev events.Event) {
		fmt.Println(ev.Raw.String("hostname"), "connected via", ev.Key)
	})

	// Prefix wildcards match every action of a category.
	_, _ = client.On("ap.*", func(ev events.Event) {
		fmt.Println("access point event:", ev.Action)
	})

	// err := client.Connect(context.Background())
	// Output:
}

func ExampleClient_OnStatus() {
	client, _ := events.New("unifi.local", "admin", "password")

	client.OnStatus(func(st events.Status) {
		switch st.Kind {
		case events.StatusDisconnected:
			fmt.Println("lost the stream:", st.Err)
		case events.StatusReconnectScheduled:
			fmt.Println("reconnect attempt", st.Attempt)
		}
	})
	// Output:
}

func ExampleClassify() {
	ce, ok := events.Classify(events.RawEvent{"key": "EVT_WU_Connected"})
	fmt.Println(ok, ce.Name(), events.Names(ce))
	// Output: true wu.connected [wu.connected connected event]
}
