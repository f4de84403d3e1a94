package utils

import (
	"crypto/rand"
	"fmt"
)

// 邀请码字符集，去掉了易混淆的 I L O 0 1
const inviteCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// InviteCodeLength 邀请码长度
const InviteCodeLength = 5

// GenerateInviteCode 生成短邀请码（大写，适合口头或短信转达）
func GenerateInviteCode() (string, error) {
	b := make([]byte, InviteCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate invite code: %w", err)
	}
	for i := range b {
		b[i] = inviteCodeAlphabet[int(b[i])%len(inviteCodeAlphabet)]
	}
	return string(b), nil
}
