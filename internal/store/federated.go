package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/ppdb-id/ppdb-backend/internal/model"
)

const federatedCols = `id, user_id, provider, provider_user_id, access_token, refresh_token,
	token_expires, sync_status, created_at, updated_at`

func scanFederated(row interface{ Scan(...any) error }) (*model.FederatedIdentity, error) {
	var f model.FederatedIdentity
	var expires sql.NullInt64
	var created, updated int64
	err := row.Scan(&f.ID, &f.UserID, &f.Provider, &f.ProviderUserID, &f.AccessToken, &f.RefreshToken,
		&expires, &f.SyncStatus, &created, &updated)
	if err != nil {
		return nil, err
	}
	f.TokenExpires = timePtr(expires)
	f.CreatedAt, f.UpdatedAt = timeOf(created), timeOf(updated)
	return &f, nil
}

// LinkFederatedIdentity creates the link; the (provider, provider_user_id)
// unique constraint surfaces as Conflict when the external account is
// already tied to another user.
func (st *Store) LinkFederatedIdentity(ctx context.Context, f *model.FederatedIdentity) error {
	now := time.Now()
	if f.SyncStatus == "" {
		f.SyncStatus = "pending"
	}
	err := st.q.QueryRowContext(ctx,
		`INSERT INTO federated_identities (user_id, provider, provider_user_id,
		   access_token, refresh_token, token_expires, sync_status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		f.UserID, f.Provider, f.ProviderUserID,
		f.AccessToken, f.RefreshToken, nullUnix(f.TokenExpires), f.SyncStatus, unix(now), unix(now),
	).Scan(&f.ID)
	if err != nil {
		return wrapDB("link federated identity", err)
	}
	f.CreatedAt, f.UpdatedAt = now, now
	return nil
}

func (st *Store) GetFederatedIdentity(ctx context.Context, provider, providerUserID string) (*model.FederatedIdentity, error) {
	f, err := scanFederated(st.q.QueryRowContext(ctx,
		`SELECT `+federatedCols+` FROM federated_identities WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID))
	if err != nil {
		return nil, wrapDB("get federated identity", err)
	}
	return f, nil
}

func (st *Store) ListFederatedIdentities(ctx context.Context, userID int64) ([]model.FederatedIdentity, error) {
	rows, err := st.q.QueryContext(ctx,
		`SELECT `+federatedCols+` FROM federated_identities WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, wrapDB("list federated identities", err)
	}
	defer rows.Close()

	var out []model.FederatedIdentity
	for rows.Next() {
		f, err := scanFederated(rows)
		if err != nil {
			return nil, wrapDB("scan federated identity", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// UpdateFederatedTokens refreshes the stored provider credentials after a
// sync round-trip.
func (st *Store) UpdateFederatedTokens(ctx context.Context, id int64, accessToken, refreshToken string, expires *time.Time, syncStatus string) error {
	res, err := st.q.ExecContext(ctx,
		`UPDATE federated_identities SET access_token=$1, refresh_token=$2, token_expires=$3,
		   sync_status=$4, updated_at=$5 WHERE id=$6`,
		accessToken, refreshToken, nullUnix(expires), syncStatus, unix(time.Now()), id)
	if err != nil {
		return wrapDB("update federated identity", err)
	}
	return requireAffected(res, "update federated identity")
}
