// Package protocol defines the JSON frames exchanged over the live
// WebSocket endpoints. The chat socket (/ws/live) carries text turns and
// synthesized audio; the duplex socket (/ws/live2) carries raw PCM audio
// and video frames in both directions.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Client frames, chat socket.

type ClientStartSession struct {
	Type string `json:"type"`
}

type ClientUserMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
	FrameB64  string `json:"frame_b64,omitempty"`
	FrameMime string `json:"frame_mime,omitempty"`
}

type ClientEndSession struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// Client frames, duplex socket.

type ClientStart struct {
	Type string `json:"type"`
}

type ClientAudioChunk struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio_b64"`
}

type ClientVideoFrame struct {
	Type      string `json:"type"`
	FrameB64  string `json:"frame_b64"`
	FrameMime string `json:"frame_mime,omitempty"`
}

type ClientVideoFeedStopped struct {
	Type string `json:"type"`
}

type ClientBargeIn struct {
	Type string `json:"type"`
}

type ClientEnd struct {
	Type string `json:"type"`
}

// DecodeChatMessage parses a frame from the chat socket.
func DecodeChatMessage(data []byte) (any, error) {
	typ, err := frameType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case "start_session":
		var msg ClientStartSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start_session frame", "")
		}
		return msg, nil
	case "user_message":
		var msg ClientUserMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid user_message frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" && strings.TrimSpace(msg.FrameB64) == "" {
			return nil, badRequest("user_message requires text or frame_b64", "text")
		}
		return msg, nil
	case "video_frame":
		var msg ClientVideoFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid video_frame frame", "")
		}
		if strings.TrimSpace(msg.FrameB64) == "" {
			return nil, badRequest("video_frame.frame_b64 is required", "frame_b64")
		}
		return msg, nil
	case "end_session":
		var msg ClientEndSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end_session frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// DecodeDuplexMessage parses a frame from the duplex socket.
func DecodeDuplexMessage(data []byte) (any, error) {
	typ, err := frameType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case "start":
		var msg ClientStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		return msg, nil
	case "audio_chunk":
		var msg ClientAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk frame", "")
		}
		if strings.TrimSpace(msg.AudioB64) == "" {
			return nil, badRequest("audio_chunk.audio_b64 is required", "audio_b64")
		}
		return msg, nil
	case "video_frame":
		var msg ClientVideoFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid video_frame frame", "")
		}
		if strings.TrimSpace(msg.FrameB64) == "" {
			return nil, badRequest("video_frame.frame_b64 is required", "frame_b64")
		}
		return msg, nil
	case "video_feed_stopped":
		var msg ClientVideoFeedStopped
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid video_feed_stopped frame", "")
		}
		return msg, nil
	case "barge_in":
		var msg ClientBargeIn
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid barge_in frame", "")
		}
		return msg, nil
	case "end":
		var msg ClientEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

func frameType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return "", badRequest("missing type", "type")
	}
	return typ, nil
}

// Server frames.

type ServerStatus struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ServerSessionCreated struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type ServerSessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type ServerResponseChunk struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerFunctionResult struct {
	Type         string `json:"type"`
	FunctionName string `json:"function_name"`
	Results      any    `json:"results"`
}

type ServerResponseComplete struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ServerAudioChunk struct {
	Type     string `json:"type"`
	Seq      int64  `json:"seq"`
	AudioB64 string `json:"audio_b64"`
}

type ServerAudioStreamEnd struct {
	Type string `json:"type"`
}

type ServerAudioReset struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ServerAssistantText struct {
	Type          string `json:"type"`
	Text          string `json:"text"`
	Sender        string `json:"sender,omitempty"`
	Transcription bool   `json:"transcription,omitempty"`
}

type ServerAssistantAudio struct {
	Type     string `json:"type"`
	AudioB64 string `json:"audio_b64"`
}

type ServerAudioAck struct {
	Type  string `json:"type"`
	Bytes int64  `json:"bytes"`
}

type ServerVideoQueueCleared struct {
	Type string `json:"type"`
}

type ServerSessionEnded struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

// Sender labels on assistant_text frames.
const (
	SenderUser   = "User"
	SenderGemini = "Gemini"
)

// Audio reset reasons.
const (
	ResetBargeIn     = "barge_in"
	ResetInterrupted = "interrupted"
	ResetNewTurn     = "new_turn"
	ResetShutdown    = "shutdown"
)
