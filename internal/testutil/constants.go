package testutil

// TestSigningKey is HMAC key material for tests only. 32+ bytes.
const TestSigningKey = "test-signing-key-1234567890123456"
