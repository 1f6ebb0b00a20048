package influxdb

import (
	"errors"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-bus/internal/bus"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// trafficMeasurement is the measurement every bus message is written to.
const trafficMeasurement = "bus_traffic"

// Traffic directions and results, used as tag values.
const (
	directionIn  = "in"
	directionOut = "out"

	resultReceived     = "received"
	resultSent         = "sent"
	resultFailed       = "failed"
	resultNotConnected = "not_connected"
	resultEncodeFailed = "encode_failed"
)

// MessageReceived writes one inbound traffic point.
//
// Example point:
//
//	bus_traffic,direction=in,topic=sensors/hall/temp,result=received bytes=12i,qos=0i
func (c *Client) MessageReceived(topic string, payload []byte) {
	c.writeTraffic(directionIn, topic, resultReceived, len(payload), transport.AtMostOnce)
}

// MessagePublished writes one outbound traffic point tagged with the outcome.
func (c *Client) MessagePublished(topic string, payload []byte, qos transport.QoS, err error) {
	c.writeTraffic(directionOut, topic, publishResult(err), len(payload), qos)
}

func (c *Client) writeTraffic(direction, topic, result string, size int, qos transport.QoS) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		trafficMeasurement,
		map[string]string{
			"direction": direction,
			"topic":     topic,
			"result":    result,
		},
		map[string]interface{}{
			"bytes": size,
			"qos":   int(qos),
		},
		c.now(),
	)

	c.writer.WritePoint(point)
}

func publishResult(err error) string {
	switch {
	case err == nil:
		return resultSent
	case errors.Is(err, bus.ErrNotConnected):
		return resultNotConnected
	case errors.Is(err, bus.ErrEncode):
		return resultEncodeFailed
	default:
		return resultFailed
	}
}
