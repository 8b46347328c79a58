package messaging

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MockAcknowledger struct {
	mock.Mock
}

func (m *MockAcknowledger) Ack(multiple bool) error {
	args := m.Called(multiple)
	return args.Error(0)
}

func (m *MockAcknowledger) Nack(multiple, requeue bool) error {
	args := m.Called(multiple, requeue)
	return args.Error(0)
}

type SettleTestSuite struct {
	suite.Suite
	ack *MockAcknowledger
}

func (s *SettleTestSuite) SetupTest() {
	s.ack = new(MockAcknowledger)
}

func (s *SettleTestSuite) TestAcksOnSuccess() {
	s.ack.On("Ack", false).Return(nil)

	var got []byte
	settle("document.user.created", []byte(`{"id":"1"}`), s.ack, func(body []byte) error {
		got = body
		return nil
	})

	s.Equal(`{"id":"1"}`, string(got))
	s.ack.AssertExpectations(s.T())
	s.ack.AssertNotCalled(s.T(), "Nack", mock.Anything, mock.Anything)
}

func (s *SettleTestSuite) TestNacksWithoutRequeueOnFailure() {
	s.ack.On("Nack", false, false).Return(nil)

	settle("document.user.created", []byte(`{}`), s.ack, func([]byte) error {
		return errors.New("handler failed")
	})

	s.ack.AssertExpectations(s.T())
	s.ack.AssertNotCalled(s.T(), "Ack", mock.Anything)
}

func TestSettleTestSuite(t *testing.T) {
	suite.Run(t, new(SettleTestSuite))
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("document.user.created", map[string]string{"id": "abc"})

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "document.user.created", msg.Type)
	assert.NotNil(t, msg.Data)
	assert.NotNil(t, msg.Metadata)
	assert.True(t, time.Since(msg.Timestamp) < time.Second)
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	ids := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		ids[NewMessage("t", nil).ID] = struct{}{}
	}
	assert.Len(t, ids, 100)
}

func TestMessage_WireFormat(t *testing.T) {
	msg := NewMessage("document.enrichmentsource.deleted", map[string]interface{}{
		"collection": "enrichmentsource",
		"count":      2,
	})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, msg.ID, wire["id"])
	assert.Equal(t, "document.enrichmentsource.deleted", wire["type"])
	assert.Contains(t, wire, "timestamp")
	assert.NotContains(t, wire, "metadata")
	assert.Equal(t, "enrichmentsource", wire["data"].(map[string]interface{})["collection"])
}

func TestPublish_UnsupportedPayload(t *testing.T) {
	r := &RabbitMQ{}
	err := r.Publish(EventsExchange, "document.user.created", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal message")
}

func TestReconnectBackoff(t *testing.T) {
	assert.Equal(t, time.Second, reconnectBackoff(0))
	assert.Equal(t, 5*time.Second, reconnectBackoff(4))
}
