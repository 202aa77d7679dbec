package user

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func pwFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "pw.txt")
	require.NoError(t, os.WriteFile(file, []byte(content), pwFileMode))
	return file
}

func hash(t *testing.T, password string) string {
	t.Helper()
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(b)
}

func TestUserManager_Init(t *testing.T) {
	tests := []struct {
		name          string
		fileContent   string
		expectedUsers map[string]string
		expectedError error
	}{
		{
			name:          "empty file",
			fileContent:   "",
			expectedUsers: map[string]string{},
		},
		{
			name:        "valid users",
			fileContent: fmt.Sprintf("user1%s$2a$14$hash1\nuser2%s$2a$14$hash2\n", columnSep, columnSep),
			expectedUsers: map[string]string{
				"user1": "$2a$14$hash1",
				"user2": "$2a$14$hash2",
			},
		},
		{name: "missing colon", fileContent: "user1$2a$14$hash1\n", expectedError: ErrPwFileContentFormat},
		{name: "empty username", fileContent: ":$2a$14$hash1\n", expectedError: ErrPwFileContentFormat},
		{name: "empty password", fileContent: "user1:\n", expectedError: ErrPwFileContentFormat},
		{name: "too many colons", fileContent: "user1:hash:extra\n", expectedError: ErrPwFileContentFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			um := &UserManager{PwFile: pwFile(t, tt.fileContent)}
			err := um.Init()

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedUsers, um.users)
			assert.NotNil(t, um.authenticatedUsers)
		})
	}
}

func TestUserManager_InitCreatesMissingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "new-pw.txt")
	um := &UserManager{PwFile: file}
	require.NoError(t, um.Init())

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(pwFileMode), info.Mode().Perm())
}

func TestUserManager_CreateUser(t *testing.T) {
	tests := []struct {
		name          string
		pwFileContent string
		credential    Credential
		expectedError error
	}{
		{name: "valid user", credential: Credential{Username: "testuser", Password: "testpass"}},
		{name: "underscore", credential: Credential{Username: "test_user", Password: "testpass"}},
		{name: "numbers", credential: Credential{Username: "user123", Password: "testpass"}},
		{name: "starts with number", credential: Credential{Username: "1testuser", Password: "testpass"}, expectedError: ErrInvalidUsername},
		{name: "special chars", credential: Credential{Username: "test-user", Password: "testpass"}, expectedError: ErrInvalidUsername},
		{name: "empty password", credential: Credential{Username: "testuser"}, expectedError: ErrEmptyPassword},
		{
			name:          "already exists",
			pwFileContent: "testuser" + columnSep + "somehash\n",
			credential:    Credential{Username: "testuser", Password: "testpass"},
			expectedError: ErrUsernameExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			um := &UserManager{PwFile: pwFile(t, tt.pwFileContent), Cost: bcrypt.MinCost}
			require.NoError(t, um.Init())

			err := um.CreateUser(tt.credential)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)

			// the record must survive a reload from disk
			reloaded := &UserManager{PwFile: um.PwFile}
			require.NoError(t, reloaded.Init())
			assert.True(t, reloaded.CheckUserPassword(tt.credential.Username, tt.credential.Password))
		})
	}
}

func TestUserManager_DeleteUser(t *testing.T) {
	content := "user1" + columnSep + "hash1\nuser2" + columnSep + "hash2\n"

	tests := []struct {
		name         string
		userToDelete string
		remaining    []string
	}{
		{name: "existing user", userToDelete: "user1", remaining: []string{"user2"}},
		{name: "unknown user", userToDelete: "nonexistent", remaining: []string{"user1", "user2"}},
		{name: "empty username", userToDelete: "", remaining: []string{"user1", "user2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			um := &UserManager{PwFile: pwFile(t, content)}
			require.NoError(t, um.Init())
			require.NoError(t, um.DeleteUser(tt.userToDelete))

			reloaded := &UserManager{PwFile: um.PwFile}
			require.NoError(t, reloaded.Init())
			assert.Len(t, reloaded.users, len(tt.remaining))
			for _, u := range tt.remaining {
				assert.Contains(t, reloaded.users, u)
			}
		})
	}
}

func TestUserManager_CheckUserPassword(t *testing.T) {
	testHash := hash(t, "testpass123")
	um := &UserManager{users: map[string]string{"testuser": testHash}}

	assert.True(t, um.CheckUserPassword("testuser", "testpass123"))
	assert.False(t, um.CheckUserPassword("testuser", "wrongpass"))
	assert.False(t, um.CheckUserPassword("nonexistent", "testpass123"))
	assert.False(t, um.CheckUserPassword("", "testpass123"))

	um.users["broken"] = "invalid_hash"
	assert.False(t, um.CheckUserPassword("broken", "testpass123"))
}

func TestUserManager_Authenticate(t *testing.T) {
	um := &UserManager{PwFile: pwFile(t, "user1"+columnSep+hash(t, "secret")+"\n")}
	require.NoError(t, um.Init())

	assert.ErrorIs(t, um.Authenticate("user1", "wrong", "10.0.0.1"), ErrBadCredential)
	assert.ErrorIs(t, um.Authenticate("ghost", "secret", "10.0.0.1"), ErrBadCredential)

	require.NoError(t, um.Authenticate("user1", "secret", "10.0.0.1"))
	assert.True(t, um.CheckUserIP("user1", "10.0.0.1"))
	assert.False(t, um.CheckUserIP("user1", "10.0.0.2"))

	assert.ErrorIs(t, um.Authenticate("user1", "secret", "10.0.0.2"), ErrAlreadyLoggedIn)

	um.UnsetAuthenticatedUser("user1")
	require.NoError(t, um.Authenticate("user1", "secret", "10.0.0.2"))
}

func TestUserManager_SetAuthenticatedUser(t *testing.T) {
	um := &UserManager{
		users:              map[string]string{"user1": "hash1"},
		authenticatedUsers: &authenticatedUsers{users: map[string]string{}},
	}

	assert.True(t, um.SetAuthenticatedUser("user1", "192.168.1.1"))
	assert.False(t, um.SetAuthenticatedUser("user1", "192.168.1.2"), "deny to update existing authenticated user")
	assert.Equal(t, "192.168.1.1", um.authenticatedUsers.users["user1"])
	assert.False(t, um.SetAuthenticatedUser("nonexistent", "192.168.1.1"))

	um.UnsetAuthenticatedUser("nonexistent")
	um.UnsetAuthenticatedUser("user1")
	assert.NotContains(t, um.authenticatedUsers.users, "user1")
}

func TestUserManager_hashPassword(t *testing.T) {
	um := &UserManager{Cost: bcrypt.MinCost}

	h, err := um.hashPassword("testpassword123")
	require.NoError(t, err)
	assert.True(t, um.checkPasswordHash("testpassword123", h))

	cost, err := bcrypt.Cost([]byte(h))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

func TestUserManager_ConcurrentAccess(t *testing.T) {
	um := &UserManager{
		users:              map[string]string{"user1": "hash1"},
		authenticatedUsers: &authenticatedUsers{users: make(map[string]string)},
	}

	wg := sync.WaitGroup{}
	for _, fn := range []func(){
		func() { um.CheckUserIP("user1", "192.168.1.1") },
		func() { um.SetAuthenticatedUser("user1", "192.168.1.1") },
		func() { um.UnsetAuthenticatedUser("user1") },
		func() { um.Exists("user1") },
	} {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				fn()
			}
		}(fn)
	}
	wg.Wait()
}
