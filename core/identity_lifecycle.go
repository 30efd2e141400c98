package core

import (
	"context"
	"encoding/json"
	"errors"

	"meshcore/internal/identity"
	"meshcore/internal/store"
)

// LoadOrCreateIdentity returns the node's long-term identity manager,
// recovering it from st's primary IdentityRecord if one exists (decrypting
// its mnemonic envelope with password) or minting and persisting a fresh
// one otherwise. Grounded on the teacher's mnemonic-backed seed lifecycle
// (internal/identity/seed_lifecycle.go) plus its storage snapshot pattern
// (internal/storage) for the encrypted-envelope-at-rest bytes.
func LoadOrCreateIdentity(ctx context.Context, st store.Adapter, password string) (*identity.Manager, error) {
	mgr, err := identity.NewManager()
	if err != nil {
		return nil, err
	}

	rec, err := st.GetPrimaryIdentity(ctx)
	switch {
	case err == nil:
		var env identity.EncryptedSeedEnvelope
		if uerr := json.Unmarshal(rec.EncryptedSeedEnvelope, &env); uerr != nil {
			return nil, uerr
		}
		mnemonic, derr := identity.DecryptSeed(&env, []byte(password))
		if derr != nil {
			return nil, derr
		}
		if _, ierr := mgr.ImportIdentity(string(mnemonic), password); ierr != nil {
			return nil, ierr
		}
		return mgr, nil

	case errors.Is(err, store.ErrNotFound):
		_, mnemonic, cerr := mgr.CreateIdentity(password)
		if cerr != nil {
			return nil, cerr
		}
		env, eerr := identity.EncryptSeed([]byte(mnemonic), []byte(password))
		if eerr != nil {
			return nil, eerr
		}
		envBytes, jerr := json.Marshal(env)
		if jerr != nil {
			return nil, jerr
		}
		id := mgr.GetIdentity()
		serr := st.UpsertIdentity(ctx, store.IdentityRecord{
			PeerID:                id.PeerID,
			Fingerprint:           id.Fingerprint,
			PublicKey:             id.PublicKey,
			EncryptedSeedEnvelope: envBytes,
			CreatedAt:             id.CreatedAt,
			IsPrimary:             true,
		})
		if serr != nil {
			return nil, serr
		}
		return mgr, nil

	default:
		return nil, err
	}
}
