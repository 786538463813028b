package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/mahaj/dupahar-sync/pkg/convid"
	"github.com/mama165/sdk-go/logs"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userA := flag.String("a", "userA", "first user")
	userB := flag.String("b", "userB", "second user")
	flag.Parse()

	log := logs.GetLoggerFromLevel(slog.LevelInfo)
	if err := run(log, *apiAddr, *userA, *userB); err != nil {
		fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
		os.Exit(1)
	}
	log.Info("API looks healthy")
}

func run(log *slog.Logger, apiAddr, userA, userB string) error {
	// 1. Login
	reqBody, _ := json.Marshal(map[string]string{"user_id": userA})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: %s", resp.Status)
	}
	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return err
	}
	log.Info("Logged in", "user_id", userA)

	// 2. Read back what the sync core writes
	conversationID := convid.New(userA, userB)
	for _, path := range []string{
		"/history?conversation_id=" + url.QueryEscape(conversationID),
		"/conversations",
		"/presence?user_id=" + url.QueryEscape(userB),
	} {
		body, err := get(apiAddr+path, loginResp.Token)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log.Info("Fetched", "path", path, "body", body)
	}
	return nil
}

func get(target, token string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Add("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return string(bytes.TrimSpace(body)), nil
}
