// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
)

// askRequest is the payload for POST /v1/advisor/chat.
type askRequest struct {
	ConversationID string                   `json:"conversation_id,omitempty"`
	Query          string                   `json:"query"`
	Profile        datatypes.StudentProfile `json:"profile"`
}

// askResponse mirrors the server's chat response.
type askResponse struct {
	ConversationID string                     `json:"conversation_id"`
	Answer         string                     `json:"answer"`
	Grounded       bool                       `json:"grounded"`
	Rounds         int                        `json:"rounds"`
	Trail          []datatypes.DecisionRecord `json:"trail,omitempty"`
}

func runAskCommand(_ *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	baseURL := advisorBaseURL()
	fmt.Printf("Asking %s: %s\n", baseURL, question)
	fmt.Println("---")

	payload := askRequest{
		Query: question,
		Profile: datatypes.StudentProfile{
			Program:    programFlag,
			TargetTerm: termFlag,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("failed to create request body: %v", err)
	}

	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Post(baseURL+"/v1/advisor/chat", "application/json", bytes.NewBuffer(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: advisor server unavailable at %s\n", baseURL)
		fmt.Fprintf(os.Stderr, "Start it with: ./advisor -config advisor.yaml\n")
		fmt.Fprintf(os.Stderr, "Or set ADVISOR_URL to override the default address.\n")
		log.Fatalf("connection failed: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Advisor error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var result askResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		log.Printf("Raw response from advisor: %s", string(respBody))
		log.Fatalf("failed to decode advisor response: %v", err)
	}

	fmt.Printf("\nAnswer:\n%s\n", result.Answer)
	if !result.Grounded {
		fmt.Println("\n(Warning: this answer did not pass evidence grounding)")
	}
	if result.Rounds > 0 {
		fmt.Printf("\n[%d rounds, conversation: %s]\n", result.Rounds, result.ConversationID)
	}
}

// advisorBaseURL resolves the server address from --server, then
// ADVISOR_URL, then the default local address.
func advisorBaseURL() string {
	if serverFlag != "" {
		return strings.TrimRight(serverFlag, "/")
	}
	if env := os.Getenv("ADVISOR_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://localhost:8090"
}
