package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
)

// RoleNotFoundError は指定した名前のロールがスコープ内に存在しない場合のエラー。
type RoleNotFoundError struct {
	// Scope はロールを探索したスコープ（クライアントUUIDまたは "realm"）。
	Scope string
	// Name は見つからなかったロール名。
	Name string
}

// Error はerrorインターフェースの実装。
func (e *RoleNotFoundError) Error() string {
	return fmt.Sprintf("ロール %q がスコープ %q に存在しません", e.Name, e.Scope)
}

// ResolveClientRole はクライアントロールを名前からKeycloak内部のロール表現に解決する。
// ロールマッピングの操作には {id, name} を含む完全なロール表現が必要なため、
// スコープ内の全ロールを取得して名前が完全一致する最初のロールを返す。
func (c *Client) ResolveClientRole(ctx context.Context, token, clientUUID, roleName string) (map[string]any, error) {
	status, body, err := c.ListClientRoles(ctx, token, clientUUID)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Body: body}
	}
	return findRoleByName(body, clientUUID, roleName)
}

// ResolveRealmRole はレルムロールを名前からKeycloak内部のロール表現に解決する。
func (c *Client) ResolveRealmRole(ctx context.Context, token, roleName string) (map[string]any, error) {
	status, body, err := c.ListRealmRoles(ctx, token)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Body: body}
	}
	return findRoleByName(body, "realm", roleName)
}

// findRoleByName はロール一覧のJSONから名前が完全一致する最初のロールを取り出す。
// 大文字小文字は区別する。一致するロールがなければ*RoleNotFoundErrorを返す。
func findRoleByName(listBody []byte, scope, roleName string) (map[string]any, error) {
	var roles []map[string]any
	if err := json.Unmarshal(listBody, &roles); err != nil {
		return nil, fmt.Errorf("ロール一覧のデシリアライズに失敗: %w", err)
	}

	for _, role := range roles {
		if name, ok := role["name"].(string); ok && name == roleName {
			return role, nil
		}
	}
	return nil, &RoleNotFoundError{Scope: scope, Name: roleName}
}
