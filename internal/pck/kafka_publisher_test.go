package pck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaTrajectoryPublisherDisabledWithNoBrokers(t *testing.T) {
	t.Parallel()
	pub, err := NewKafkaTrajectoryPublisher("", "pck.trajectories.completed")
	require.NoError(t, err)
	assert.Nil(t, pub)
}

func TestNewKafkaTrajectoryPublisherDisabledWithBlankBrokers(t *testing.T) {
	t.Parallel()
	pub, err := NewKafkaTrajectoryPublisher(" , , ", "pck.trajectories.completed")
	require.NoError(t, err)
	assert.Nil(t, pub)
}

func TestNewKafkaTrajectoryPublisherParsesBrokerList(t *testing.T) {
	t.Parallel()
	pub, err := NewKafkaTrajectoryPublisher("broker-1:9092, broker-2:9092", "pck.trajectories.completed")
	require.NoError(t, err)
	require.NotNil(t, pub)
	pub.Close()
}

func TestNilKafkaTrajectoryPublisherMethodsAreNoops(t *testing.T) {
	t.Parallel()
	var pub *KafkaTrajectoryPublisher

	err := pub.Publish(nil, TrajectoryCompletedEvent{TrajectoryID: "traj-1"})
	require.NoError(t, err)

	pub.Close() // must not panic
}
