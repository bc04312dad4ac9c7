package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client はKeycloak Admin REST APIへのHTTPクライアント。
// リクエストごとに呼び出し元のBearerトークンを転送し、状態を保持しない。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL はKeycloakのベースURL（例: "http://localhost:8080"）。
	baseURL string
	// realm は操作対象のレルム名。
	realm string
}

// APIError はKeycloakが2xx以外のステータスを返した場合のエラー。
// 更新系の操作では呼び出し元までそのまま伝播させる。
type APIError struct {
	// Status はKeycloakが返したHTTPステータスコード。
	Status int
	// Body はKeycloakが返したレスポンスボディ。
	Body []byte
}

// Error はerrorインターフェースの実装。
func (e *APIError) Error() string {
	return fmt.Sprintf("Keycloak APIエラー: status=%d, body=%s", e.Status, string(e.Body))
}

// New は新しいKeycloak Admin APIクライアントを生成する。
// baseURLとrealmは起動時の設定値で、以後変更されない。
func New(baseURL, realm string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		realm:   realm,
	}
}

// adminURL はAdmin APIの絶対URLを組み立てる。
func (c *Client) adminURL(parts ...string) string {
	return c.baseURL + "/admin/realms/" + c.realm + "/" + strings.Join(parts, "/")
}

// do はBearerトークンを付与してHTTPリクエストを実行する共通処理。
// payloadがnilでない場合はJSONボディとして送信する。
// ステータスコードとレスポンスボディをそのまま返し、判定は呼び出し側で行う。
func (c *Client) do(ctx context.Context, method, url, token string, payload any) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("Keycloakへのリクエスト送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// read は読み取り系の操作を実行し、Keycloakのステータスとボディを無加工で返す。
func (c *Client) read(ctx context.Context, token, url string) (int, []byte, error) {
	return c.do(ctx, http.MethodGet, url, token, nil)
}

// write は更新系の操作を実行する。2xx以外のステータスは*APIErrorとして返す。
func (c *Client) write(ctx context.Context, method, url, token string, payload any) error {
	status, body, err := c.do(ctx, method, url, token, payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &APIError{Status: status, Body: body}
	}
	return nil
}

// ListUsers はレルム内の全ユーザーを取得する。
// Keycloakのステータスコードとボディをそのまま返す。
func (c *Client) ListUsers(ctx context.Context, token string) (int, []byte, error) {
	return c.read(ctx, token, c.adminURL("users"))
}

// GetUser は指定IDのユーザー情報を取得してJSONオブジェクトとして返す。
// ユーザーが存在しない場合など2xx以外の応答は*APIErrorとなる。
func (c *Client) GetUser(ctx context.Context, token, userID string) (map[string]any, error) {
	status, body, err := c.read(ctx, token, c.adminURL("users", userID))
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Body: body}
	}

	var user map[string]any
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("ユーザー情報のデシリアライズに失敗: %w", err)
	}
	return user, nil
}

// CreateUser は新しいユーザーを作成する。
// userPayloadの形式は呼び出し元が定義し、そのままKeycloakに転送される。
func (c *Client) CreateUser(ctx context.Context, token string, userPayload map[string]any) error {
	return c.write(ctx, http.MethodPost, c.adminURL("users"), token, userPayload)
}

// UpdateUser は指定IDのユーザー情報を更新する。
func (c *Client) UpdateUser(ctx context.Context, token, userID string, userPayload map[string]any) error {
	return c.write(ctx, http.MethodPut, c.adminURL("users", userID), token, userPayload)
}

// DeleteUser は指定IDのユーザーを削除する。
func (c *Client) DeleteUser(ctx context.Context, token, userID string) error {
	return c.write(ctx, http.MethodDelete, c.adminURL("users", userID), token, nil)
}

// ListClientRoles は指定クライアント配下の全ロールを取得する。
// Keycloakのステータスコードとボディをそのまま返す。
func (c *Client) ListClientRoles(ctx context.Context, token, clientUUID string) (int, []byte, error) {
	return c.read(ctx, token, c.adminURL("clients", clientUUID, "roles"))
}

// CreateClientRole は指定クライアント配下にロールを作成する。
func (c *Client) CreateClientRole(ctx context.Context, token, clientUUID string, rolePayload map[string]any) error {
	return c.write(ctx, http.MethodPost, c.adminURL("clients", clientUUID, "roles"), token, rolePayload)
}

// UpdateClientRole はロール名を指定してクライアントロールを更新する。
func (c *Client) UpdateClientRole(ctx context.Context, token, clientUUID, roleName string, rolePayload map[string]any) error {
	return c.write(ctx, http.MethodPut, c.adminURL("clients", clientUUID, "roles", roleName), token, rolePayload)
}

// DeleteClientRole はロール名を指定してクライアントロールを削除する。
func (c *Client) DeleteClientRole(ctx context.Context, token, clientUUID, roleName string) error {
	return c.write(ctx, http.MethodDelete, c.adminURL("clients", clientUUID, "roles", roleName), token, nil)
}

// ListRealmRoles はレルムロールの一覧を取得する。
// Keycloakのステータスコードとボディをそのまま返す。
func (c *Client) ListRealmRoles(ctx context.Context, token string) (int, []byte, error) {
	return c.read(ctx, token, c.adminURL("roles"))
}

// CreateRealmRole は新しいレルムロールを作成する。
func (c *Client) CreateRealmRole(ctx context.Context, token string, rolePayload map[string]any) error {
	return c.write(ctx, http.MethodPost, c.adminURL("roles"), token, rolePayload)
}

// UpdateRealmRole はロール名を指定してレルムロールを更新する。
func (c *Client) UpdateRealmRole(ctx context.Context, token, roleName string, rolePayload map[string]any) error {
	return c.write(ctx, http.MethodPut, c.adminURL("roles", roleName), token, rolePayload)
}

// DeleteRealmRole はロール名を指定してレルムロールを削除する。
func (c *Client) DeleteRealmRole(ctx context.Context, token, roleName string) error {
	return c.write(ctx, http.MethodDelete, c.adminURL("roles", roleName), token, nil)
}

// AssignClientRoles はユーザーにクライアントロールを割り当てる。
// rolesの各要素はKeycloakのロール表現（少なくとも "id" と "name"）を含むこと。
func (c *Client) AssignClientRoles(ctx context.Context, token, userID, clientUUID string, roles []map[string]any) error {
	url := c.adminURL("users", userID, "role-mappings", "clients", clientUUID)
	return c.write(ctx, http.MethodPost, url, token, roles)
}

// RemoveClientRoles はユーザーに割り当て済みのクライアントロールを解除する。
func (c *Client) RemoveClientRoles(ctx context.Context, token, userID, clientUUID string, roles []map[string]any) error {
	url := c.adminURL("users", userID, "role-mappings", "clients", clientUUID)
	return c.write(ctx, http.MethodDelete, url, token, roles)
}

// AssignRealmRoles はユーザーにレルムロールを割り当てる。
func (c *Client) AssignRealmRoles(ctx context.Context, token, userID string, roles []map[string]any) error {
	url := c.adminURL("users", userID, "role-mappings", "realm")
	return c.write(ctx, http.MethodPost, url, token, roles)
}

// RemoveRealmRoles はユーザーに割り当て済みのレルムロールを解除する。
// 解除は /role-mappings/realm パスに対して行う。
func (c *Client) RemoveRealmRoles(ctx context.Context, token, userID string, roles []map[string]any) error {
	url := c.adminURL("users", userID, "role-mappings", "realm")
	return c.write(ctx, http.MethodDelete, url, token, roles)
}
