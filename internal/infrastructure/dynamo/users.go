package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chatauth/internal/domain"
)

// UserRepo is the Credential Store: one row per subject, keyed by user_id,
// with secondary indexes on email, username and (auth_provider, provider_id).
type UserRepo struct {
	client    API
	tableName string
	now       func() time.Time
}

func NewUserRepo(client API, tableName string) *UserRepo {
	return &UserRepo{client: client, tableName: tableName, now: time.Now}
}

// Create inserts u, failing with Conflict if the user_id is taken.
// Email and username uniqueness is checked by callers through the indexes.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": fieldUserID},
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Conflict("user already exists")
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldUserID, userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if out.Item == nil {
		return nil, domain.NotFound("user not found")
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.queryOne(ctx, indexUsername, map[string]string{fieldUsername: username})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.queryOne(ctx, indexEmail, map[string]string{fieldEmail: email})
}

// GetByProvider finds the user linked to an external identity.
func (r *UserRepo) GetByProvider(ctx context.Context, provider, providerID string) (*domain.User, error) {
	return r.queryOne(ctx, indexProvider, map[string]string{
		fieldAuthProvider: provider,
		fieldProviderID:   providerID,
	})
}

// SetRefreshToken stores token unconditionally. Used when a new session is issued.
func (r *UserRepo) SetRefreshToken(ctx context.Context, userID, token string) error {
	return r.update(ctx, userID, map[string]interface{}{fieldRefreshToken: token}, nil)
}

// RotateRefreshToken replaces expected with next only if expected is still the
// stored value. A lost race or a replayed token returns
// domain.ErrRefreshTokenMismatch.
func (r *UserRepo) RotateRefreshToken(ctx context.Context, userID, expected, next string) error {
	err := r.update(ctx, userID, map[string]interface{}{fieldRefreshToken: next}, &condition{
		Expr:   "#cur = :expected",
		Names:  map[string]string{"#cur": fieldRefreshToken},
		Values: map[string]types.AttributeValue{":expected": &types.AttributeValueMemberS{Value: expected}},
	})
	if isConditionFailed(err) {
		// Either the row is gone or another request rotated first.
		return domain.ErrRefreshTokenMismatch
	}
	return err
}

// ClearRefreshToken removes the stored refresh token. Clearing a missing user
// is not an error.
func (r *UserRepo) ClearRefreshToken(ctx context.Context, userID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(fieldUserID, userID),
		UpdateExpression:    aws.String("REMOVE #rt SET #ua = :ua"),
		ConditionExpression: aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#rt": fieldRefreshToken,
			"#ua": fieldUpdatedAt,
			"#id": fieldUserID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ua": timeValue(r.now()),
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

func (r *UserRepo) UpdatePassword(ctx context.Context, userID, hash string) error {
	return r.update(ctx, userID, map[string]interface{}{fieldPasswordHash: hash}, nil)
}

// LinkProvider attaches an external identity to an existing user, filling
// avatar_url only when the user has none.
func (r *UserRepo) LinkProvider(ctx context.Context, userID, provider, providerID, avatarURL string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(fieldUserID, userID),
		UpdateExpression:    aws.String("SET #ap = :ap, #pid = :pid, #av = if_not_exists(#av, :av), #ua = :ua"),
		ConditionExpression: aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#ap":  fieldAuthProvider,
			"#pid": fieldProviderID,
			"#av":  fieldAvatarURL,
			"#ua":  fieldUpdatedAt,
			"#id":  fieldUserID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ap":  &types.AttributeValueMemberS{Value: provider},
			":pid": &types.AttributeValueMemberS{Value: providerID},
			":av":  &types.AttributeValueMemberS{Value: avatarURL},
			":ua":  timeValue(r.now()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.NotFound("user not found")
		}
		return fmt.Errorf("link provider: %w", err)
	}
	return nil
}

// Ping reports whether the users table is reachable.
func (r *UserRepo) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.tableName)})
	return err
}

// condition is an extra ConditionExpression ANDed with the row existence check.
type condition struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// update applies a SET of updates plus updated_at to an existing row. A failed
// existence check is NotFound; a failed extra condition is returned as is.
func (r *UserRepo) update(ctx context.Context, userID string, updates map[string]interface{}, cond *condition) error {
	updates[fieldUpdatedAt] = r.now().UTC()
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue.Names["#id"] = fieldUserID
	expr := "attribute_exists(#id)"
	if cond != nil {
		expr += " AND " + cond.Expr
		for k, v := range cond.Names {
			ue.Names[k] = v
		}
		for k, v := range cond.Values {
			ue.Values[k] = v
		}
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldUserID, userID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String(expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		if isConditionFailed(err) {
			if cond != nil {
				return err
			}
			return domain.NotFound("user not found")
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *UserRepo) queryOne(ctx context.Context, index string, keys map[string]string) (*domain.User, error) {
	names := make(map[string]string, len(keys))
	values := make(map[string]types.AttributeValue, len(keys))
	cond := ""
	i := 0
	for _, attr := range sortedKeys(keys) {
		n, v := fmt.Sprintf("#k%d", i), fmt.Sprintf(":k%d", i)
		names[n] = attr
		values[v] = &types.AttributeValueMemberS{Value: keys[attr]}
		if cond != "" {
			cond += " AND "
		}
		cond += n + " = " + v
		i++
	}
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	if len(out.Items) == 0 {
		return nil, domain.NotFound("user not found")
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Items[0], &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

func timeValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)}
}
