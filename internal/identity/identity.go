// Package identity resolves a participant's credential into a profile and
// decides whether it may enter a room.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
)

type AccessLevel string

const (
	AccessAdmin    AccessLevel = "admin"
	AccessCustomer AccessLevel = "customer"
	AccessNone     AccessLevel = "no_access"
)

var (
	ErrUnknownCredential = errors.New("unknown credential")
	ErrAccessDenied      = errors.New("access denied")
)

type Profile struct {
	UserID     string
	Username   string
	ProfilePic string
}

type Provider interface {
	Resolve(ctx context.Context, credential string) (Profile, error)
	Access(ctx context.Context, userID string, room domain.RoomID) (AccessLevel, error)
}

// ParseAccessLevel accepts the three known levels; anything else is no_access.
func ParseAccessLevel(s string) AccessLevel {
	switch AccessLevel(s) {
	case AccessAdmin, AccessCustomer:
		return AccessLevel(s)
	default:
		return AccessNone
	}
}

// Authorize resolves the credential and checks room access in one step.
func Authorize(ctx context.Context, p Provider, credential string, room domain.RoomID) (Profile, AccessLevel, error) {
	profile, err := p.Resolve(ctx, credential)
	if err != nil {
		return Profile{}, AccessNone, err
	}
	level, err := p.Access(ctx, profile.UserID, room)
	if err != nil {
		return Profile{}, AccessNone, err
	}
	if level == AccessNone {
		return profile, level, fmt.Errorf("%w: %s may not enter %s", ErrAccessDenied, profile.UserID, room)
	}
	return profile, level, nil
}

// StaticProvider serves identities declared in the peer configuration.
type StaticProvider struct {
	byCredential map[string]config.Identity
	byUser       map[string]config.Identity
}

func NewStaticProvider(ids map[string]config.Identity) *StaticProvider {
	p := &StaticProvider{
		byCredential: make(map[string]config.Identity, len(ids)),
		byUser:       make(map[string]config.Identity, len(ids)),
	}
	for cred, id := range ids {
		p.byCredential[cred] = id
		p.byUser[id.UserID] = id
	}
	return p
}

func (p *StaticProvider) Resolve(ctx context.Context, credential string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	id, ok := p.byCredential[credential]
	if !ok {
		return Profile{}, ErrUnknownCredential
	}
	return Profile{UserID: id.UserID, Username: id.Username, ProfilePic: id.ProfilePic}, nil
}

func (p *StaticProvider) Access(ctx context.Context, userID string, room domain.RoomID) (AccessLevel, error) {
	if err := ctx.Err(); err != nil {
		return AccessNone, err
	}
	id, ok := p.byUser[userID]
	if !ok {
		return AccessNone, nil
	}
	if lvl, ok := id.Rooms[string(room)]; ok {
		return ParseAccessLevel(lvl), nil
	}
	return ParseAccessLevel(id.Default), nil
}

// Anonymous grants customer access to everyone under a fixed profile. Used
// when no credential is configured.
type Anonymous struct {
	Profile Profile
}

func (a Anonymous) Resolve(ctx context.Context, _ string) (Profile, error) {
	return a.Profile, ctx.Err()
}

func (a Anonymous) Access(ctx context.Context, _ string, _ domain.RoomID) (AccessLevel, error) {
	return AccessCustomer, ctx.Err()
}
