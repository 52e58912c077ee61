package coordinatorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/ceremony-coordinator/api/auth"
	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/stretchr/testify/mock"
)

// StatusError is returned by Client for non-200 responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("coordinator returned error %d: %s", e.StatusCode, e.Message)
}

// Client calls the coordinator on behalf of one participant key.
// Every request is signed with Key.
type Client struct {
	// ServerAddr is the base URL of the coordinator
	ServerAddr string

	Key    *cryptoutils.KeyPair
	Scheme cryptoutils.SignatureScheme

	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

func NewClient(serverAddr string, key *cryptoutils.KeyPair) (*Client, error) {
	scheme, err := cryptoutils.NewSignatureScheme(key.Scheme)
	if err != nil {
		return nil, err
	}
	return &Client{ServerAddr: serverAddr, Key: key, Scheme: scheme}, nil
}

func (c *Client) JoinQueue(ctx context.Context) (*interfaces.ContributorStatus, error) {
	var status interfaces.ContributorStatus
	if err := c.do(ctx, http.MethodPost, "/contributor/join_queue", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) LockChunk(ctx context.Context) (*interfaces.LockedLocators, error) {
	var locked interfaces.LockedLocators
	if err := c.do(ctx, http.MethodGet, "/contributor/lock_chunk", nil, &locked); err != nil {
		return nil, err
	}
	return &locked, nil
}

func (c *Client) DownloadChunk(ctx context.Context, locked *interfaces.LockedLocators) (*interfaces.Task, error) {
	var task interfaces.Task
	if err := c.do(ctx, http.MethodPost, "/download/chunk", locked, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Challenge downloads the challenge transcript of a locked chunk.
func (c *Client) Challenge(ctx context.Context, locked *interfaces.LockedLocators) ([]byte, error) {
	var challenge []byte
	if err := c.do(ctx, http.MethodPost, "/contributor/challenge", locked, &challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// NewPostChunkRequest signs the hashes of challenge and response with the
// client key and builds the upload for the locked chunk.
func (c *Client) NewPostChunkRequest(locked *interfaces.LockedLocators, challenge, response []byte) (*interfaces.PostChunkRequest, error) {
	state := interfaces.ContributionState{
		ChallengeHash: cryptoutils.TranscriptHashHex(challenge),
		ResponseHash:  cryptoutils.TranscriptHashHex(response),
	}
	message, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	signature, err := c.Scheme.Sign(c.Key, message)
	if err != nil {
		return nil, fmt.Errorf("could not sign contribution: %w", err)
	}
	return &interfaces.PostChunkRequest{
		ContributionLocator:              locked.NextContribution,
		Contribution:                     response,
		ContributionFileSignatureLocator: locked.NextContributionFileSignature,
		ContributionFileSignature: interfaces.ContributionFileSignature{
			Signature: signature,
			State:     state,
		},
	}, nil
}

func (c *Client) UploadChunk(ctx context.Context, req *interfaces.PostChunkRequest) error {
	return c.do(ctx, http.MethodPost, "/upload/chunk", req, nil)
}

func (c *Client) ContributeChunk(ctx context.Context, chunkID uint64) (*interfaces.ContributionLocator, error) {
	var locator interfaces.ContributionLocator
	if err := c.do(ctx, http.MethodPost, "/contributor/contribute_chunk", ContributeChunkRequest{ChunkID: chunkID}, &locator); err != nil {
		return nil, err
	}
	return &locator, nil
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/contributor/heartbeat", nil, nil)
}

func (c *Client) TasksLeft(ctx context.Context) ([]interfaces.Task, error) {
	var tasks []interfaces.Task
	if err := c.do(ctx, http.MethodGet, "/contributor/get_tasks_left", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) QueueStatus(ctx context.Context) (*interfaces.ContributorStatus, error) {
	var status interfaces.ContributorStatus
	if err := c.do(ctx, http.MethodGet, "/contributor/queue_status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) PostContributionInfo(ctx context.Context, info *interfaces.ContributionInfo) error {
	return c.do(ctx, http.MethodPost, "/contributor/contribution_info", info, nil)
}

func (c *Client) ContributionsSummary(ctx context.Context) ([]interfaces.TrimmedContributionInfo, error) {
	var summary []interfaces.TrimmedContributionInfo
	if err := c.do(ctx, http.MethodGet, "/contribution_info", nil, &summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Update, Verify and Stop are only accepted from the coordinator verifier key.
func (c *Client) Update(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/update", nil, nil)
}

func (c *Client) Verify(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/verify", nil, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/stop", nil, nil)
}

// do signs and sends a request. A non-nil in is sent as JSON. The response is
// decoded into out: raw bytes for *[]byte, JSON otherwise.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := auth.SignRequest(req, c.Scheme, c.Key, body); err != nil {
		return err
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	switch out := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*out, err = io.ReadAll(resp.Body)
		return err
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("could not parse %s response: %w", path, err)
		}
		return nil
	}
}

// MockCeremony implements Ceremony for testing.
type MockCeremony struct {
	mock.Mock
}

func (m *MockCeremony) Join(ctx context.Context, id, address string) error {
	return m.Called(ctx, id, address).Error(0)
}

func (m *MockCeremony) Lock(ctx context.Context, id string) (interfaces.LockedLocators, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(interfaces.LockedLocators), args.Error(1)
}

func (m *MockCeremony) NextTask(id string, locked interfaces.LockedLocators) (interfaces.Task, error) {
	args := m.Called(id, locked)
	return args.Get(0).(interfaces.Task), args.Error(1)
}

func (m *MockCeremony) Challenge(ctx context.Context, id string, locked interfaces.LockedLocators) ([]byte, error) {
	args := m.Called(ctx, id, locked)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCeremony) UploadChunk(ctx context.Context, id string, req interfaces.PostChunkRequest) error {
	return m.Called(ctx, id, req).Error(0)
}

func (m *MockCeremony) Contribute(id string, chunkID uint64) (interfaces.ContributionLocator, error) {
	args := m.Called(id, chunkID)
	return args.Get(0).(interfaces.ContributionLocator), args.Error(1)
}

func (m *MockCeremony) Heartbeat(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockCeremony) PendingTasks(id string) ([]interfaces.Task, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.Task), args.Error(1)
}

func (m *MockCeremony) Status(id string) interfaces.ContributorStatus {
	return m.Called(id).Get(0).(interfaces.ContributorStatus)
}

func (m *MockCeremony) PostContributionInfo(ctx context.Context, id string, info interfaces.ContributionInfo) error {
	return m.Called(ctx, id, info).Error(0)
}

func (m *MockCeremony) ContributionsSummary(ctx context.Context) ([]interfaces.TrimmedContributionInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.TrimmedContributionInfo), args.Error(1)
}

func (m *MockCeremony) Update(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCeremony) VerifyPending(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCeremony) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
