// Package mqtt provides the broker connection and the topic subscription
// registry used to talk to EchoBeacon devices.
//
// # Client
//
// Client owns one paho connection. Connect returns immediately and the
// outcome is reported through the connection status:
//
//	disconnected → connecting → connected
//	                          ↘ error
//
// There is no automatic reconnection. A lost connection moves the status to
// error and stays there until Connect is called again. Transitions are
// validated by a small state machine and pushed to OnStatusChange listeners
// in order.
//
// # Registry
//
// Registry maps topics to handlers and keeps exactly one broker subscription
// per topic, whatever the number of handlers. It re-subscribes every topic
// after each (re)connect, and it is the only code that calls SubscribeRaw or
// UnsubscribeRaw.
//
// # Usage
//
//	client := mqtt.NewClient()
//	registry := mqtt.NewRegistry(client)
//
//	sub, err := registry.Subscribe(topics.Status, func(topic string, payload []byte) error {
//	    log.Printf("status: %s", payload)
//	    return nil
//	})
//
//	if err := client.Connect(mqtt.OptionsFromConfig(cfg.MQTT)); err != nil {
//	    return err
//	}
//
//	err = client.Publish(topics.Command, []byte(`{"comando":"ativar","numero_identificacao":"EB-01"}`))
package mqtt
