package core

import (
	"context"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout accepted by SEED_USERS_PATH:
//
//	users:
//	  - username: alice
//	    email: alice@example.com
//	    role: user
//	    password: s3cret-pass
type seedFile struct {
	Users []seedUser `yaml:"users"`
}

type seedUser struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// ParseSeedUsers decodes and validates a seed document.
func ParseSeedUsers(data []byte) ([]CreateUserInput, error) {
	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed yaml: %w", err)
	}
	out := make([]CreateUserInput, 0, len(doc.Users))
	seen := make(map[string]struct{}, len(doc.Users))
	for i, u := range doc.Users {
		in := CreateUserInput{Username: u.Username, Email: u.Email, Password: u.Password, Role: Role(u.Role)}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		if _, dup := seen[in.Username]; dup {
			return nil, fmt.Errorf("users[%d]: duplicate username %q", i, in.Username)
		}
		seen[in.Username] = struct{}{}
		out = append(out, in)
	}
	return out, nil
}

// SeedUsers provisions every user listed in the YAML file at path that does
// not exist yet. Returns the number of accounts created.
func SeedUsers(ctx context.Context, repo UserRepository, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	inputs, err := ParseSeedUsers(data)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, in := range inputs {
		hash, err := HashPassword(in.Password)
		if err != nil {
			return created, fmt.Errorf("hash password for %s: %w", in.Username, err)
		}
		_, ok, err := repo.CreateIfAbsent(ctx, NewUser{Username: in.Username, Email: in.Email, PasswordHash: hash, Role: in.Role})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	log.Printf("[seed] %d of %d users created from %s", created, len(inputs), path)
	return created, nil
}
