package protocol

import (
	"strings"
	"testing"
)

func TestDecodeChatMessage_UserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","session_id":"abc","text":"find me apples"}`)

	msg, err := DecodeChatMessage(raw)
	if err != nil {
		t.Fatalf("DecodeChatMessage() error = %v", err)
	}
	um, ok := msg.(ClientUserMessage)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientUserMessage", msg)
	}
	if um.SessionID != "abc" || um.Text != "find me apples" {
		t.Fatalf("decoded = %+v", um)
	}
}

func TestDecodeChatMessage_UserMessageWithFrameOnly(t *testing.T) {
	raw := []byte(`{"type":"user_message","frame_b64":"aGVsbG8=","frame_mime":"image/png"}`)

	msg, err := DecodeChatMessage(raw)
	if err != nil {
		t.Fatalf("DecodeChatMessage() error = %v", err)
	}
	um := msg.(ClientUserMessage)
	if um.FrameB64 == "" || um.FrameMime != "image/png" {
		t.Fatalf("decoded = %+v", um)
	}
}

func TestDecodeChatMessage_UserMessageEmpty(t *testing.T) {
	_, err := DecodeChatMessage([]byte(`{"type":"user_message","text":"  "}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "bad_request" || decErr.Param != "text" {
		t.Fatalf("decode error = %+v", decErr)
	}
}

func TestDecodeChatMessage_StartAndEnd(t *testing.T) {
	if _, err := DecodeChatMessage([]byte(`{"type":"start_session"}`)); err != nil {
		t.Fatalf("start_session error = %v", err)
	}
	msg, err := DecodeChatMessage([]byte(`{"type":"end_session","session_id":"abc"}`))
	if err != nil {
		t.Fatalf("end_session error = %v", err)
	}
	if end := msg.(ClientEndSession); end.SessionID != "abc" {
		t.Fatalf("end = %+v", end)
	}
}

func TestDecodeChatMessage_UnknownType(t *testing.T) {
	_, err := DecodeChatMessage([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr := err.(*DecodeError)
	if decErr.Code != "unsupported" {
		t.Fatalf("code = %q", decErr.Code)
	}
}

func TestDecodeChatMessage_BadJSON(t *testing.T) {
	_, err := DecodeChatMessage([]byte(`{"type":`))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid json") {
		t.Fatalf("err = %v", err)
	}
}

func TestDecodeDuplexMessage_AudioChunk(t *testing.T) {
	msg, err := DecodeDuplexMessage([]byte(`{"type":"audio_chunk","audio_b64":"UENN"}`))
	if err != nil {
		t.Fatalf("DecodeDuplexMessage() error = %v", err)
	}
	chunk, ok := msg.(ClientAudioChunk)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientAudioChunk", msg)
	}
	if chunk.AudioB64 != "UENN" {
		t.Fatalf("audio_b64 = %q", chunk.AudioB64)
	}
}

func TestDecodeDuplexMessage_AudioChunkMissingData(t *testing.T) {
	_, err := DecodeDuplexMessage([]byte(`{"type":"audio_chunk"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr := err.(*DecodeError)
	if decErr.Param != "audio_b64" {
		t.Fatalf("param = %q", decErr.Param)
	}
}

func TestDecodeDuplexMessage_VideoFrame(t *testing.T) {
	msg, err := DecodeDuplexMessage([]byte(`{"type":"video_frame","frame_b64":"anBn","frame_mime":"image/jpeg"}`))
	if err != nil {
		t.Fatalf("DecodeDuplexMessage() error = %v", err)
	}
	frame := msg.(ClientVideoFrame)
	if frame.FrameMime != "image/jpeg" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestDecodeDuplexMessage_ControlFrames(t *testing.T) {
	for _, typ := range []string{"start", "video_feed_stopped", "barge_in", "end"} {
		if _, err := DecodeDuplexMessage([]byte(`{"type":"` + typ + `"}`)); err != nil {
			t.Fatalf("%s error = %v", typ, err)
		}
	}
}

func TestDecodeDuplexMessage_MissingType(t *testing.T) {
	_, err := DecodeDuplexMessage([]byte(`{"audio_b64":"UENN"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr := err.(*DecodeError)
	if decErr.Param != "type" {
		t.Fatalf("param = %q", decErr.Param)
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	err := &DecodeError{Code: "bad_request", Message: "missing type", Param: "type"}
	if err.Error() != "missing type (type)" {
		t.Fatalf("Error() = %q", err.Error())
	}
	err = &DecodeError{Code: "bad_request", Message: "invalid json frame"}
	if err.Error() != "invalid json frame" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
