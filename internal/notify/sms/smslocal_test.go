package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"otp-identity/backend/internal/notify"
)

func otpMessage(dest, code string) notify.Message {
	return notify.Message{Channel: notify.ChannelSMS, Destination: dest, Text: "Your code is " + code, Code: code}
}

func TestNewSMSLocalClient_Defaults(t *testing.T) {
	client := NewSMSLocalClient("api-key", "", "")
	if client.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q, want default", client.BaseURL)
	}
	if client.HTTPClient == nil || client.HTTPClient.Timeout != defaultTimeout {
		t.Errorf("HTTPClient = %+v, want timeout %v", client.HTTPClient, defaultTimeout)
	}
}

func TestNewSMSLocalClient_Custom(t *testing.T) {
	client := NewSMSLocalClient("api-key", "https://custom.sms.local/api", "TEST")
	if client.BaseURL != "https://custom.sms.local/api" || client.Sender != "TEST" {
		t.Errorf("client = %+v", client)
	}
}

func TestDeliver_OTPRoute(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Authorization") != "test-api-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer server.Close()

	client := NewSMSLocalClient("test-api-key", server.URL, "OTPSVC")
	if err := client.Deliver(context.Background(), otpMessage("+91 98765-43210", "654321")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if body["route"] != "otp" || body["numbers"] != "919876543210" || body["variables"] != "654321" {
		t.Errorf("body = %v", body)
	}
	if body["sender_id"] != "OTPSVC" {
		t.Errorf("sender_id = %v", body["sender_id"])
	}
	if _, ok := body["message"]; ok {
		t.Error("OTP route should not carry message text")
	}
}

func TestDeliver_QuickRouteWithoutCode(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSMSLocalClient("k", server.URL, "")
	msg := notify.Message{Channel: notify.ChannelSMS, Destination: "+15551234567", Text: "welcome"}
	if err := client.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if body["route"] != "q" || body["message"] != "welcome" {
		t.Errorf("body = %v", body)
	}
}

func TestDeliver_MissingAPIKey(t *testing.T) {
	err := NewSMSLocalClient("", "", "").Deliver(context.Background(), otpMessage("+15551234567", "123456"))
	if err == nil || !strings.Contains(err.Error(), "API key not configured") {
		t.Fatalf("err = %v", err)
	}
}

func TestDeliver_EmptyDestination(t *testing.T) {
	if err := NewSMSLocalClient("k", "", "").Deliver(context.Background(), otpMessage("", "123456")); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeliver_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
		}
	}))
	defer server.Close()

	client := NewSMSLocalClient("api-key", server.URL, "")
	client.HTTPClient = &http.Client{Timeout: time.Second}
	if err := client.Deliver(context.Background(), otpMessage("15551234567", "123456")); err == nil {
		t.Fatal("expected error for HTTP failure")
	}
}

func TestDeliver_Non200Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid request"}`))
	}))
	defer server.Close()

	err := NewSMSLocalClient("api-key", server.URL, "").Deliver(context.Background(), otpMessage("15551234567", "123456"))
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if !strings.Contains(err.Error(), "status=400") || !strings.Contains(err.Error(), "invalid request") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestDeliver_ThroughDispatcherFailsSoftly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := notify.NewDispatcher(map[notify.Channel]notify.Provider{
		notify.ChannelSMS: NewSMSLocalClient("api-key", server.URL, ""),
	})
	out := d.Send(context.Background(), otpMessage("+15551234567", "123456"))
	if out.Delivered || !strings.Contains(out.Reason, "status=500") {
		t.Errorf("Outcome = %+v", out)
	}
}
