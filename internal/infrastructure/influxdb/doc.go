// Package influxdb mirrors EchoBeacon MQTT traffic into InfluxDB.
//
// Each audited message becomes one point in the echobeacon_messages
// measurement, tagged by direction and topic, so command volume and beacon
// status activity can be graphed over time. The integration is optional:
// Connect returns ErrDisabled when influxdb.enabled is false.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	recorder.AddMirror(func(rec audit.Record) {
//	    client.WriteMessage(string(rec.Direction), rec.Topic, rec.Payload, rec.CreatedAt)
//	})
package influxdb
