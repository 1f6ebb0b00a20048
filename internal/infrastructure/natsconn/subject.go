package natsconn

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// toSubject converts a bus topic or pattern to a NATS subject.
//
//	sensors/+/temp  ->  sensors.*.temp
//	sensors/#       ->  sensors.>
//
// Segments that NATS would read as separators or wildcards are rejected.
func toSubject(topic string) (string, error) {
	segments := strings.Split(topic, "/")
	for i, seg := range segments {
		switch seg {
		case "+":
			segments[i] = "*"
			continue
		case "#":
			segments[i] = ">"
			continue
		case "":
			return "", fmt.Errorf("%w: empty segment in %q", transport.ErrConfiguration, topic)
		}
		if strings.ContainsAny(seg, ".*> \t\r\n") {
			return "", fmt.Errorf("%w: segment %q in %q is not valid on NATS", transport.ErrConfiguration, seg, topic)
		}
	}
	return strings.Join(segments, "."), nil
}

// fromSubject converts a concrete NATS subject back to a bus topic.
func fromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
