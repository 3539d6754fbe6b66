package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/wastewise/ledger"
)

// =============================================================================
// REWARDS
// =============================================================================

const rewardColumns = `id, title, description, reward_type, points_required, max_redemptions,
	current_redemptions, expiry_days, is_active, created_at`

func (qs queries) GetReward(ctx context.Context, id uuid.UUID) (ledger.Reward, error) {
	row := qs.q.QueryRowContext(ctx, qs.bind(`SELECT `+rewardColumns+` FROM rewards WHERE id = ?`), id)
	r, err := scanReward(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Reward{}, &ledger.NotFoundError{Resource: "reward", ID: id.String()}
	}
	if err != nil {
		return ledger.Reward{}, qs.wrap("get reward", err)
	}
	return r, nil
}

// SaveReward inserts or replaces the catalog fields. The redemption
// counter is only ever changed by IncrementRedemptions.
func (qs queries) SaveReward(ctx context.Context, r ledger.Reward) error {
	var maxRedemptions sql.NullInt64
	if r.MaxRedemptions != nil {
		maxRedemptions = sql.NullInt64{Int64: int64(*r.MaxRedemptions), Valid: true}
	}
	_, err := qs.exec(ctx, "save reward", `
		INSERT INTO rewards
		(id, title, description, reward_type, points_required, max_redemptions,
		 current_redemptions, expiry_days, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			reward_type = excluded.reward_type,
			points_required = excluded.points_required,
			max_redemptions = excluded.max_redemptions,
			expiry_days = excluded.expiry_days,
			is_active = excluded.is_active
	`,
		r.ID, r.Title, r.Description, string(r.Type), int64(r.PointsRequired), maxRedemptions,
		r.CurrentRedemptions, r.ExpiryDays, r.Active, nanos(r.CreatedAt),
	)
	return err
}

func (qs queries) ListRewards(ctx context.Context, activeOnly bool) ([]ledger.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards`
	var args []any
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY points_required ASC, title ASC`

	rows, err := qs.q.QueryContext(ctx, qs.bind(query), args...)
	if err != nil {
		return nil, qs.wrap("list rewards", err)
	}
	defer rows.Close()

	var rewards []ledger.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, qs.wrap("list rewards", err)
		}
		rewards = append(rewards, r)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.wrap("list rewards", err)
	}
	return rewards, nil
}

// IncrementRedemptions is the guarded counter update. The WHERE clause
// enforces the cap in the database, so it holds across users even though
// units of work only lock per user.
func (qs queries) IncrementRedemptions(ctx context.Context, rewardID uuid.UUID) error {
	res, err := qs.exec(ctx, "increment redemptions", `
		UPDATE rewards
		SET current_redemptions = current_redemptions + 1
		WHERE id = ? AND (max_redemptions IS NULL OR current_redemptions < max_redemptions)
	`, rewardID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.WrapStore("increment redemptions", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := qs.GetReward(ctx, rewardID); err != nil {
		return err
	}
	return fmt.Errorf("reward %s: %w", rewardID, ledger.ErrSoldOut)
}

func scanReward(row scanner) (ledger.Reward, error) {
	var (
		r         ledger.Reward
		desc      sql.NullString
		rtype     string
		points    int64
		capped    sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&r.ID, &r.Title, &desc, &rtype, &points, &capped,
		&r.CurrentRedemptions, &r.ExpiryDays, &r.Active, &createdAt)
	if err != nil {
		return r, err
	}
	r.Description = desc.String
	r.Type = ledger.RewardType(rtype)
	r.PointsRequired = ledger.Points(points)
	if capped.Valid {
		m := int(capped.Int64)
		r.MaxRedemptions = &m
	}
	r.CreatedAt = fromNanos(createdAt)
	return r, nil
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

const redemptionColumns = `id, user_id, reward_id, code, status, expires_at, ledger_entry_id, redeemed_at, used_at`

func (qs queries) CreateRedemption(ctx context.Context, r ledger.Redemption) error {
	_, err := qs.exec(ctx, "create redemption", `
		INSERT INTO redemptions (`+redemptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, string(r.UserID), r.RewardID, r.Code, string(r.Status),
		nanos(r.ExpiresAt), r.LedgerEntryID, nanos(r.RedeemedAt), nullNanos(r.UsedAt),
	)
	return err
}

func (qs queries) GetRedemptionByCode(ctx context.Context, code string) (ledger.Redemption, error) {
	row := qs.q.QueryRowContext(ctx, qs.bind(`SELECT `+redemptionColumns+` FROM redemptions WHERE code = ?`), code)
	r, err := scanRedemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Redemption{}, &ledger.NotFoundError{Resource: "redemption", ID: code}
	}
	if err != nil {
		return ledger.Redemption{}, qs.wrap("get redemption", err)
	}
	return r, nil
}

// UpdateRedemption persists the mutable fields (status, used_at).
func (qs queries) UpdateRedemption(ctx context.Context, r ledger.Redemption) error {
	res, err := qs.exec(ctx, "update redemption",
		`UPDATE redemptions SET status = ?, used_at = ? WHERE code = ?`,
		string(r.Status), nullNanos(r.UsedAt), r.Code,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "redemption", r.Code)
}

func (qs queries) ListRedemptions(ctx context.Context, userID ledger.UserID) ([]ledger.Redemption, error) {
	rows, err := qs.q.QueryContext(ctx, qs.bind(`
		SELECT `+redemptionColumns+` FROM redemptions
		WHERE user_id = ?
		ORDER BY redeemed_at DESC, code DESC
	`), string(userID))
	if err != nil {
		return nil, qs.wrap("list redemptions", err)
	}
	defer rows.Close()

	var out []ledger.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, qs.wrap("list redemptions", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.wrap("list redemptions", err)
	}
	return out, nil
}

func (qs queries) ListLapsedRedemptions(ctx context.Context, now time.Time, limit int) ([]ledger.Redemption, error) {
	rows, err := qs.q.QueryContext(ctx, qs.bind(`
		SELECT `+redemptionColumns+` FROM redemptions
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at, code
		LIMIT ?
	`), string(ledger.RedemptionActive), nanos(now), limit)
	if err != nil {
		return nil, qs.wrap("list lapsed redemptions", err)
	}
	defer rows.Close()

	var out []ledger.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, qs.wrap("list lapsed redemptions", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.wrap("list lapsed redemptions", err)
	}
	return out, nil
}

func scanRedemption(row scanner) (ledger.Redemption, error) {
	var (
		r          ledger.Redemption
		userID     string
		status     string
		expiresAt  int64
		redeemedAt int64
		usedAt     sql.NullInt64
	)
	err := row.Scan(&r.ID, &userID, &r.RewardID, &r.Code, &status, &expiresAt, &r.LedgerEntryID, &redeemedAt, &usedAt)
	if err != nil {
		return r, err
	}
	r.UserID = ledger.UserID(userID)
	r.Status = ledger.RedemptionStatus(status)
	r.ExpiresAt = fromNanos(expiresAt)
	r.RedeemedAt = fromNanos(redeemedAt)
	r.UsedAt = timePtr(usedAt)
	return r, nil
}

// =============================================================================
// PICKUPS
// =============================================================================

const pickupColumns = `id, user_id, status, waste_type, pickup_date, address, special_instructions,
	estimated_weight_kg, actual_weight_kg, points_awarded, driver_id, driver_notes,
	created_at, updated_at, completed_at, emergency_fee_points`

func (qs queries) CreatePickup(ctx context.Context, p ledger.Pickup) error {
	_, err := qs.exec(ctx, "create pickup", `
		INSERT INTO pickups (`+pickupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pickupArgs(p)...)
	return err
}

func (qs queries) GetPickup(ctx context.Context, id uuid.UUID) (ledger.Pickup, error) {
	row := qs.q.QueryRowContext(ctx, qs.bind(`SELECT `+pickupColumns+` FROM pickups WHERE id = ?`), id)
	p, err := scanPickup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Pickup{}, &ledger.NotFoundError{Resource: "pickup", ID: id.String()}
	}
	if err != nil {
		return ledger.Pickup{}, qs.wrap("get pickup", err)
	}
	return p, nil
}

func (qs queries) UpdatePickup(ctx context.Context, p ledger.Pickup) error {
	res, err := qs.exec(ctx, "update pickup", `
		UPDATE pickups SET
			status = ?, actual_weight_kg = ?, points_awarded = ?,
			driver_id = ?, driver_notes = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`,
		string(p.Status), nullDecimal(p.ActualWeightKg), nullPoints(p.PointsAwarded),
		nullString(p.DriverID), nullString(p.DriverNotes), nanos(p.UpdatedAt), nullNanos(p.CompletedAt),
		p.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "pickup", p.ID.String())
}

func (qs queries) ListPickups(ctx context.Context, userID ledger.UserID) ([]ledger.Pickup, error) {
	rows, err := qs.q.QueryContext(ctx, qs.bind(`
		SELECT `+pickupColumns+` FROM pickups
		WHERE user_id = ?
		ORDER BY pickup_date DESC, created_at DESC
	`), string(userID))
	if err != nil {
		return nil, qs.wrap("list pickups", err)
	}
	defer rows.Close()

	var out []ledger.Pickup
	for rows.Next() {
		p, err := scanPickup(rows)
		if err != nil {
			return nil, qs.wrap("list pickups", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.wrap("list pickups", err)
	}
	return out, nil
}

func pickupArgs(p ledger.Pickup) []any {
	return []any{
		p.ID, string(p.UserID), string(p.Status), string(p.WasteType), nanos(p.PickupDate),
		p.Address, nullString(p.SpecialInstructions),
		nullDecimal(p.EstimatedWeightKg), nullDecimal(p.ActualWeightKg), nullPoints(p.PointsAwarded),
		nullString(p.DriverID), nullString(p.DriverNotes),
		nanos(p.CreatedAt), nanos(p.UpdatedAt), nullNanos(p.CompletedAt),
		emergencyFee(p),
	}
}

// emergencyFee is NULL for ordinary pickups.
func emergencyFee(p ledger.Pickup) any {
	if !p.Emergency {
		return nil
	}
	return int64(p.EmergencyFee)
}

func scanPickup(row scanner) (ledger.Pickup, error) {
	var (
		p            ledger.Pickup
		userID       string
		status       string
		wasteType    string
		pickupDate   int64
		instructions sql.NullString
		estimated    decimal.NullDecimal
		actual       decimal.NullDecimal
		awarded      sql.NullInt64
		driverID     sql.NullString
		driverNotes  sql.NullString
		createdAt    int64
		updatedAt    int64
		completedAt  sql.NullInt64
		fee          sql.NullInt64
	)
	err := row.Scan(&p.ID, &userID, &status, &wasteType, &pickupDate, &p.Address, &instructions,
		&estimated, &actual, &awarded, &driverID, &driverNotes, &createdAt, &updatedAt, &completedAt, &fee)
	if err != nil {
		return p, err
	}
	p.UserID = ledger.UserID(userID)
	p.Status = ledger.PickupStatus(status)
	p.WasteType = ledger.WasteType(wasteType)
	p.PickupDate = fromNanos(pickupDate)
	p.SpecialInstructions = instructions.String
	if estimated.Valid {
		p.EstimatedWeightKg = &estimated.Decimal
	}
	if actual.Valid {
		p.ActualWeightKg = &actual.Decimal
	}
	if awarded.Valid {
		pts := ledger.Points(awarded.Int64)
		p.PointsAwarded = &pts
	}
	p.DriverID = driverID.String
	p.DriverNotes = driverNotes.String
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	p.CompletedAt = timePtr(completedAt)
	p.Emergency = fee.Valid
	p.EmergencyFee = ledger.Points(fee.Int64)
	return p, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullPoints(p *ledger.Points) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// =============================================================================
// ECO-STORE
// =============================================================================

const utilityColumns = `id, name, description, category, price_points, availability, is_active, created_at`

func (qs queries) SaveUtility(ctx context.Context, u ledger.Utility) error {
	_, err := qs.exec(ctx, "save utility", `
		INSERT INTO utilities (`+utilityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			price_points = excluded.price_points,
			availability = excluded.availability,
			is_active = excluded.is_active
	`,
		u.ID, u.Name, u.Description, u.Category, int64(u.PricePoints),
		string(u.Availability), u.Active, nanos(u.CreatedAt),
	)
	return err
}

func (qs queries) GetUtility(ctx context.Context, id uuid.UUID) (ledger.Utility, error) {
	row := qs.q.QueryRowContext(ctx, qs.bind(`SELECT `+utilityColumns+` FROM utilities WHERE id = ?`), id)
	u, err := scanUtility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Utility{}, &ledger.NotFoundError{Resource: "utility", ID: id.String()}
	}
	if err != nil {
		return ledger.Utility{}, qs.wrap("get utility", err)
	}
	return u, nil
}

func (qs queries) ListUtilities(ctx context.Context, activeOnly bool) ([]ledger.Utility, error) {
	query := `SELECT ` + utilityColumns + ` FROM utilities`
	var args []any
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY price_points ASC, name ASC`

	rows, err := qs.q.QueryContext(ctx, qs.bind(query), args...)
	if err != nil {
		return nil, qs.wrap("list utilities", err)
	}
	defer rows.Close()

	var out []ledger.Utility
	for rows.Next() {
		u, err := scanUtility(rows)
		if err != nil {
			return nil, qs.wrap("list utilities", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.wrap("list utilities", err)
	}
	return out, nil
}

func scanUtility(row scanner) (ledger.Utility, error) {
	var (
		u            ledger.Utility
		desc         sql.NullString
		price        int64
		availability string
		createdAt    int64
	)
	err := row.Scan(&u.ID, &u.Name, &desc, &u.Category, &price, &availability, &u.Active, &createdAt)
	if err != nil {
		return u, err
	}
	u.Description = desc.String
	u.PricePoints = ledger.Points(price)
	u.Availability = ledger.Availability(availability)
	u.CreatedAt = fromNanos(createdAt)
	return u, nil
}

const purchaseColumns = `id, user_id, utility_id, quantity, points_spent, delivery_address, delivery_status,
	tracking_number, ledger_entry_id, refund_entry_id, created_at, updated_at`

func (qs queries) CreatePurchase(ctx context.Context, p ledger.Purchase) error {
	_, err := qs.exec(ctx, "create purchase", `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, string(p.UserID), p.UtilityID, p.Quantity, int64(p.PointsSpent), p.DeliveryAddress,
		string(p.DeliveryStatus), nullString(p.TrackingNumber), p.LedgerEntryID, nullUUID(p.RefundEntryID),
		nanos(p.CreatedAt), nanos(p.UpdatedAt),
	)
	return err
}

func (qs queries) GetPurchase(ctx context.Context, id uuid.UUID) (ledger.Purchase, error) {
	row := qs.q.QueryRowContext(ctx, qs.bind(`SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`), id)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Purchase{}, &ledger.NotFoundError{Resource: "purchase", ID: id.String()}
	}
	if err != nil {
		return ledger.Purchase{}, qs.wrap("get purchase", err)
	}
	return p, nil
}

// UpdatePurchase persists the mutable fields (delivery, refund link).
func (qs queries) UpdatePurchase(ctx context.Context, p ledger.Purchase) error {
	res, err := qs.exec(ctx, "update purchase", `
		UPDATE purchases SET
			delivery_status = ?, tracking_number = ?, refund_entry_id = ?, updated_at = ?
		WHERE id = ?
	`,
		string(p.DeliveryStatus), nullString(p.TrackingNumber), nullUUID(p.RefundEntryID), nanos(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "purchase", p.ID.String())
}

func (qs queries) ListPurchases(ctx context.Context, userID ledger.UserID) ([]ledger.Purchase, error) {
	rows, err := qs.q.QueryContext(ctx, qs.bind(`
		SELECT `+purchaseColumns+` FROM purchases
		WHERE user_id = ?
		ORDER BY created_at DESC
	`), string(userID))
	if err != nil {
		return nil, qs.wrap("list purchases", err)
	}
	defer rows.Close()

	var out []ledger.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, qs.wrap("list purchases", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.wrap("list purchases", err)
	}
	return out, nil
}

func scanPurchase(row scanner) (ledger.Purchase, error) {
	var (
		p         ledger.Purchase
		userID    string
		spent     int64
		status    string
		tracking  sql.NullString
		refundID  uuid.NullUUID
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&p.ID, &userID, &p.UtilityID, &p.Quantity, &spent, &p.DeliveryAddress, &status,
		&tracking, &p.LedgerEntryID, &refundID, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	p.UserID = ledger.UserID(userID)
	p.PointsSpent = ledger.Points(spent)
	p.DeliveryStatus = ledger.DeliveryStatus(status)
	p.TrackingNumber = tracking.String
	if refundID.Valid {
		id := refundID.UUID
		p.RefundEntryID = &id
	}
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	return p, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
