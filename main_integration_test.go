package main_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boligmarked/market/internal/email"
	"boligmarked/market/internal/models"
)

const (
	testAppBinary         = "./market_test_app"
	testAppPort           = "8089"
	testServiceApiPortApi = "8091"
	testServiceApiPortBg  = "8092"
	testAppURL            = "http://localhost:" + testAppPort
	testServiceApiURL     = "http://localhost:" + testServiceApiPortBg // the worker sends the emails
	startupTimeout        = 15 * time.Second
	pingEndpoint          = testAppURL + "/v1/ping"
)

var (
	redisAddr = "localhost:6379"
	keyPrefix = fmt.Sprintf("itest_%d:", time.Now().UnixNano())
)

// TestMain builds the binary and runs it as separate API and worker
// processes sharing one Redis store.
func TestMain(m *testing.M) {
	defer func() {
		_ = os.Remove(testAppBinary)
	}()

	godotenv.Load()
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("Integration Test Setup: Redis not reachable at %s (%v); skipping integration tests.", redisAddr, err)
		return
	}
	defer cleanupTestData(rdb)

	log.Println("Integration Test Setup: Building application...")
	buildCmd := exec.Command("go", "build", "-o", testAppBinary, ".")
	if buildOutput, err := buildCmd.CombinedOutput(); err != nil {
		log.Printf("Failed to build application: %v\nOutput:\n%s", err, string(buildOutput))
		os.Exit(1)
	}

	commonEnv := append(os.Environ(),
		"JWT_SECRET=integration-test-secret",
		"GIN_MODE=release",
		"MOCK_SERVICES=true",
		"REDIS_ADDR="+redisAddr,
		"STORE_BACKEND=redis",
		"STORE_KEY_PREFIX="+keyPrefix,
		"EVENTS_CHANNEL="+keyPrefix+"changes",
		"SMTP_FROM_ADDRESS=test@example.com",
	)

	apiCmd := exec.Command(testAppBinary, "-m", "api")
	apiCmd.Env = append(commonEnv,
		"API_PORT="+testAppPort,
		"SERVICE_API_PORT="+testServiceApiPortApi,
		"RATE_LIMIT_BUCKET_SIZE=100",
		"RATE_LIMIT_REFILL_RATE=100",
	)
	apiCmd.Stderr = os.Stderr
	apiCmd.Stdout = os.Stdout

	bgCmd := exec.Command(testAppBinary, "-m", "bg")
	bgCmd.Env = append(commonEnv, "SERVICE_API_PORT="+testServiceApiPortBg)
	bgCmd.Stderr = os.Stderr
	bgCmd.Stdout = os.Stdout

	if err := apiCmd.Start(); err != nil {
		log.Printf("Failed to start API process: %v", err)
		os.Exit(1)
	}
	if err := bgCmd.Start(); err != nil {
		_ = apiCmd.Process.Kill()
		log.Printf("Failed to start Background Worker process: %v", err)
		os.Exit(1)
	}

	defer func() {
		log.Println("Integration Test Teardown: Shutting down application processes...")
		for _, cmd := range []*exec.Cmd{bgCmd, apiCmd} {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				_ = cmd.Process.Kill()
				continue
			}
			_, _ = cmd.Process.Wait()
		}
	}()

	log.Printf("Integration Test Setup: Waiting for API application to become ready at %s...", pingEndpoint)
	startTime := time.Now()
	ready := false
	for time.Since(startTime) < startupTimeout {
		resp, err := http.Get(pingEndpoint)
		if err == nil {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(bodyBytes) == "pong" {
				ready = true
				break
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !ready {
		log.Printf("Application failed to start within %v", startupTimeout)
		os.Exit(1)
	}

	// The worker has no health endpoint.
	time.Sleep(2 * time.Second)

	exitCode := m.Run()
	log.Printf("Integration Test Teardown: Tests finished with exit code %d.", exitCode)
}

func cleanupTestData(rdb *redis.Client) {
	ctx := context.Background()
	iter := rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rdb.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("Integration Test Teardown: failed to clean keys: %v", err)
	}
}

func TestIntegration_Ping(t *testing.T) {
	resp, err := http.Get(pingEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	bodyBytes, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "pong", string(bodyBytes))
}

func TestIntegration_JsonApiPing(t *testing.T) {
	respBody := callAPI(t, "", "ping", nil)
	assert.Equal(t, map[string]interface{}{"success": true, "data": "pong"}, respBody)
}

// callAPI posts one JSON API call and decodes the envelope.
func callAPI(t *testing.T, jwtToken, method string, arg interface{}) map[string]interface{} {
	t.Helper()
	payload := map[string]interface{}{"method": method}
	if arg != nil {
		payload["arguments"] = []interface{}{arg}
	}
	jsonBody, err := json.Marshal(payload)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodPost, testAppURL+"/v1/api", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	if jwtToken != "" {
		req.Header.Set("Authorization", "Bearer "+jwtToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var respBody map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&respBody))
	return respBody
}

func getJSON(t *testing.T, jwtToken, path string, out interface{}) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, testAppURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// signup registers a fresh user and returns its address and token.
func signup(t *testing.T, role models.Role) (string, string) {
	t.Helper()
	addr := fmt.Sprintf("%s_%d@example.com", role, time.Now().UnixNano())
	respBody := callAPI(t, "", "signup", models.NewUserInput{
		Email: addr, Password: "StrongP@ssw0rd123", Role: role, Name: "Test " + string(role), Company: "Nordbolig",
	})
	require.Equal(t, true, respBody["success"], respBody["error"])
	data := respBody["data"].(map[string]interface{})
	return addr, data["token"].(string)
}

// getEmailFromServiceAPI fetches the captured notification of kind sent to addr.
func getEmailFromServiceAPI(t *testing.T, kind email.Kind, addr string) map[string]interface{} {
	t.Helper()
	payload, _ := json.Marshal(map[string]interface{}{"method": "getTestEmail", "arguments": []string{string(kind), addr}})

	// The worker may still be processing; getTestEmail itself polls for two seconds.
	var respBody map[string]interface{}
	for attempt := 0; attempt < 5; attempt++ {
		resp, err := http.Post(testServiceApiURL+"/api", "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		respBody = nil
		_ = json.NewDecoder(resp.Body).Decode(&respBody)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return respBody["data"].(map[string]interface{})
		}
	}
	t.Fatalf("no %s email for %s: %v", kind, addr, respBody)
	return nil
}

func TestIntegration_SignUpAndLogin(t *testing.T) {
	addr, _ := signup(t, models.RoleSeller)

	respBody := callAPI(t, "", "login", map[string]string{"email": strings.ToUpper(addr), "password": "StrongP@ssw0rd123"})
	require.Equal(t, true, respBody["success"])
	data := respBody["data"].(map[string]interface{})
	assert.NotEmpty(t, data["token"])
	assert.NotContains(t, data["user"], "passwordHash")

	respBody = callAPI(t, "", "login", map[string]string{"email": addr, "password": "wrong"})
	assert.Equal(t, map[string]interface{}{"success": true, "data": false}, respBody)

	respBody = callAPI(t, "", "signup", models.NewUserInput{Email: addr, Password: "StrongP@ssw0rd123", Role: models.RoleSeller})
	assert.Equal(t, "email_exists", respBody["error"])
}

func TestIntegration_OfferAndMessageNotifications(t *testing.T) {
	sellerAddr, sellerTok := signup(t, models.RoleSeller)
	_, agentTok := signup(t, models.RoleAgent)

	respBody := callAPI(t, sellerTok, "createCase", models.NewCaseInput{Address: "Havnegade 5, 8000 Aarhus", Price: "2.750.000 kr"})
	require.Equal(t, true, respBody["success"], respBody["error"])
	caseID := respBody["data"].(map[string]interface{})["id"].(string)

	respBody = callAPI(t, agentTok, "submitOffer", map[string]interface{}{
		"caseId": caseID,
		"offer":  models.NewOfferInput{ExpectedPrice: "2.800.000 kr", Commission: "39.000 kr"},
	})
	require.Equal(t, true, respBody["success"], respBody["error"])

	offerMail := getEmailFromServiceAPI(t, email.KindNewOffer, sellerAddr)
	assert.Contains(t, offerMail["subject"], "Havnegade 5")

	respBody = callAPI(t, agentTok, "sendMessage", map[string]interface{}{"caseId": caseID, "message": "Hvornår kan jeg se boligen?"})
	require.Equal(t, true, respBody["success"], respBody["error"])

	msgMail := getEmailFromServiceAPI(t, email.KindNewMessage, sellerAddr)
	assert.Contains(t, msgMail["subject"], "New message")

	var dash struct {
		Cases []struct {
			ID            string `json:"id"`
			PendingOffers int    `json:"pendingOffers"`
		} `json:"cases"`
		UnreadMessages int `json:"unreadMessages"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, sellerTok, "/v1/dashboard/seller", &dash))
	require.Len(t, dash.Cases, 1)
	assert.Equal(t, caseID, dash.Cases[0].ID)
	assert.Equal(t, 1, dash.Cases[0].PendingOffers)
	assert.Equal(t, 1, dash.UnreadMessages)
}

func TestIntegration_RoleEnforcement(t *testing.T) {
	_, sellerTok := signup(t, models.RoleSeller)
	_, agentTok := signup(t, models.RoleAgent)

	respBody := callAPI(t, agentTok, "createCase", models.NewCaseInput{Address: "Vestergade 1"})
	assert.Equal(t, "forbidden", respBody["error"])

	assert.Equal(t, http.StatusForbidden, getJSON(t, sellerTok, "/v1/admin/users", nil))
	assert.Equal(t, http.StatusForbidden, getJSON(t, sellerTok, "/v1/offers/mine", nil))
}
