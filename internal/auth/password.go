// Package auth は認証・アカウント保護（パスワード検証、セッション、CSRF、ロックアウト）を提供します。
package auth

import "golang.org/x/crypto/bcrypt"

// bcryptCost は意図的に遅くするためのワークファクタです。
const bcryptCost = 12

// HashPassword はパスワードをソルト付きでハッシュ化します。
// 平文はログにも戻り値にも残しません。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword はパスワードがハッシュと一致するかを返します。
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
