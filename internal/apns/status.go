package apns

import "fmt"

// Status is the reason code carried in a rejection frame.
type Status uint8

const (
	StatusNoError            Status = 0
	StatusProcessingError    Status = 1
	StatusMissingDeviceToken Status = 2
	StatusMissingTopic       Status = 3
	StatusMissingPayload     Status = 4
	StatusInvalidTokenSize   Status = 5
	StatusInvalidTopicSize   Status = 6
	StatusInvalidPayloadSize Status = 7
	StatusInvalidToken       Status = 8
	StatusShutdown           Status = 10
	StatusUnknown            Status = 255
)

var statusNames = map[Status]string{
	StatusNoError:            "NO_ERROR",
	StatusProcessingError:    "PROCESSING_ERROR",
	StatusMissingDeviceToken: "MISSING_DEVICE_TOKEN",
	StatusMissingTopic:       "MISSING_TOPIC",
	StatusMissingPayload:     "MISSING_PAYLOAD",
	StatusInvalidTokenSize:   "INVALID_TOKEN_SIZE",
	StatusInvalidTopicSize:   "INVALID_TOPIC_SIZE",
	StatusInvalidPayloadSize: "INVALID_PAYLOAD_SIZE",
	StatusInvalidToken:       "INVALID_TOKEN",
	StatusShutdown:           "SHUTDOWN",
	StatusUnknown:            "UNKNOWN",
}

// ParseStatus maps a wire status byte; codes outside the table become StatusUnknown.
func ParseStatus(b byte) Status {
	s := Status(b)
	if _, ok := statusNames[s]; ok {
		return s
	}
	return StatusUnknown
}

// String returns the gateway's name for the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", uint8(s))
}

// IsTokenRelated reports whether the device token itself was refused.
// Only these statuses are written to the invalid-token log.
func (s Status) IsTokenRelated() bool {
	return s == StatusInvalidToken || s == StatusInvalidTokenSize
}
