// Package ros reads recorded ROS bags and replays their camera, IMU and odometry messages into the
// stereo SLAM service.
package ros

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()
	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to read ros bag %s", filename)
	}
	return rb, nil
}

// topicKey is the key gobag files a topic's messages under: lower case, without the leading
// slash, and with the remaining slashes replaced by underscores.
func topicKey(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}

func sameTopic(a, b string) bool {
	return topicKey(a) == topicKey(b)
}

// errNoMessages is returned when a bag holds no messages for a topic.
var errNoMessages = errors.New("no messages for topic")

type lineReader interface {
	ReadBytes(delim byte) ([]byte, error)
}

func parseTopic(rb *rosbag.RosBag, topic string) (lineReader, error) {
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return sameTopic(t, topic) },
		false,
	); err != nil {
		return nil, errors.Wrapf(err, "error while parsing bag to JSON")
	}

	msgs := rb.TopicsAsJSON[topicKey(topic)]
	if msgs == nil {
		return nil, errors.Wrap(errNoMessages, topic)
	}
	return msgs, nil
}

// decodeLines decodes one JSON message per line.
func decodeLines[T any](msgs lineReader) ([]T, error) {
	var all []T
	for {
		data, err := msgs.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if len(strings.TrimSpace(string(data))) > 0 {
			var message T
			if jsonErr := json.Unmarshal(data, &message); jsonErr != nil {
				return nil, errors.Wrapf(jsonErr, "invalid message %d", len(all))
			}
			all = append(all, message)
		}
		if err != nil {
			return all, nil
		}
	}
}

// AllMessagesForTopic returns all messages for a specific topic in the ros bag.
func AllMessagesForTopic(rb *rosbag.RosBag, topic string) ([]map[string]interface{}, error) {
	msgs, err := parseTopic(rb, topic)
	if err != nil {
		return nil, err
	}
	return decodeLines[map[string]interface{}](msgs)
}

// MessagesForTopic decodes every message of a topic into T.
func MessagesForTopic[T any](rb *rosbag.RosBag, topic string) ([]T, error) {
	msgs, err := parseTopic(rb, topic)
	if err != nil {
		return nil, err
	}
	return decodeLines[T](msgs)
}
