package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.viam.com/test"
)

type basicStruct struct {
	X int
	y string
}

// assertLogMatches will fuzzy match a log line. It checks the time format but not the exact time,
// and the filename but not the exact line number.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	// Use the length of the first string as a weak verification that it looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, _, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, _ := strings.Cut(expectedParts[3], ":")
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("slam", DEBUG, true, NewWriterAppender(notStdout))

	logger.Info("tracking started")
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459Z\tINFO\tslam\tlogging/impl_test.go:55\ttracking started")

	logger.Debug("rate ", 20, " fps")
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459Z\tDEBUG\tslam\tlogging/impl_test.go:59\trate 20 fps")

	logger.Warnw("odometry ignored", "frame", "odom", "struct", basicStruct{1, "hidden"})
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	slam	logging/impl_test.go:63	odometry ignored	{"frame":"odom","struct":{"X":1}}`)

	logger.Infow("unpaired", "key")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	slam	logging/impl_test.go:67	unpaired	{"key":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("slam", WARN, true, NewWriterAppender(notStdout))

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Infow("dropped", "k", 1)
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	test.That(t, notStdout.String(), test.ShouldContainSubstring, "kept")

	logger.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, ERROR)

	level, err := LevelFromString("WARNING")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)

	_, err = LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSubloggerAndObserver(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("gateway")
	sub.Infow("engine acquired", "waited_ms", 3)

	entries := observed.FilterMessage("engine acquired").All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "gateway")
	test.That(t, entries[0].ContextMap()["waited_ms"], test.ShouldEqual, int64(3))

	named := newImpl("slam", INFO, true)
	scheduler := named.Sublogger("scheduler").(*impl)
	test.That(t, scheduler.name, test.ShouldEqual, "slam.scheduler")

	// subloggers start at the parent's level and then move on their own
	named.SetLevel(ERROR)
	test.That(t, scheduler.GetLevel(), test.ShouldEqual, INFO)
}

func TestWithAttachesFields(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	node := logger.Sublogger("slam").With("odometry_mode", "composed")
	node.Warnw("odometry ignored", "frame", "odom")
	logger.Warn("untagged")

	entries := observed.FilterMessage("odometry ignored").All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "slam")
	test.That(t, entries[0].ContextMap(), test.ShouldResemble,
		map[string]interface{}{"odometry_mode": "composed", "frame": "odom"})
	test.That(t, observed.FilterMessage("untagged").All()[0].ContextMap(), test.ShouldBeEmpty)

	// With shares the level of the logger it came from
	node.SetLevel(ERROR)
	test.That(t, node.GetLevel(), test.ShouldEqual, ERROR)
	node.Warn("dropped")
	test.That(t, observed.FilterMessage("dropped").Len(), test.ShouldEqual, 0)
}

func TestCDebugwHonorsDebugKey(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("slam", INFO, true, NewWriterAppender(notStdout))

	logger.CDebugw(context.Background(), "hidden", "k", 1)
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	ctx := EnableDebugMode(context.Background(), "abc123")
	test.That(t, IsDebugMode(ctx), test.ShouldBeTrue)
	test.That(t, GetName(ctx), test.ShouldEqual, "abc123")
	logger.CDebugw(ctx, "landmarks", "count", 2)
	test.That(t, notStdout.String(), test.ShouldContainSubstring, `landmarks	{"count":2,"slam_debug":"abc123"}`)

	test.That(t, GetName(EnableDebugMode(context.Background(), "")), test.ShouldHaveLength, 6)
}
