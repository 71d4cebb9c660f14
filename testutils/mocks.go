package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendTemplate(templateName string, to []string, subject string, data map[string]any) error {
	args := m.Called(templateName, to, subject, data)
	return args.Error(0)
}

func (m *MockMailer) SendPlain(to []string, subject, body string) error {
	args := m.Called(to, subject, body)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendVerificationCode(ctx context.Context, to, name, code string, expiry time.Duration) {
	m.Called(to, name, code, expiry)
}

func (m *MockNotifier) SendPasswordResetCode(ctx context.Context, to, name, code string, expiry time.Duration) {
	m.Called(to, name, code, expiry)
}

func (m *MockNotifier) SendNewDeviceAlert(ctx context.Context, to, name, deviceName, ipAddress string, at time.Time) {
	m.Called(to, name, deviceName, ipAddress, at)
}

type MockRevocationChecker struct {
	mock.Mock
}

func (m *MockRevocationChecker) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	args := m.Called(jti)
	return args.Bool(0), args.Error(1)
}
