package internal

import (
	"context"
	"fmt"
	"log"
	"pedalpay/config"
	"pedalpay/entity"
	"pedalpay/services"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionLog           = "payment_log"
	collectionOrders        = "orders"
	collectionAttempts      = "payment_attempts"
	collectionNotifications = "payment_notifications"
)

type MongoDB struct {
	ctx              context.Context
	clientOptions    *options.ClientOptions
	database         string
	logRecordsNumber int64
}

func NewMongoClient(conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:              context.Background(),
		clientOptions:    clientOptions,
		database:         conf.Mongo.Database,
		logRecordsNumber: conf.LogRecords,
	}
	return client, nil
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, err
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	err := connection.Disconnect(m.ctx)
	if err != nil {
		log.Println("mongodb disconnect error", err)
	}
}

func (m *MongoDB) WriteLogMessage(data services.Data) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionLog)
	_, err = collection.InsertOne(m.ctx, data)
	return err
}

// ReadLog returns the latest records from the log collection, newest first.
// The configured record limit caps the result; with no limit set the whole
// collection is returned.
func (m *MongoDB) ReadLog(ctx context.Context) ([]entity.LogMessage, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	opts := options.Find().SetSort(bson.D{{Key: "time", Value: -1}})
	if m.logRecordsNumber > 0 {
		opts.SetLimit(m.logRecordsNumber)
	}
	collection := connection.Database(m.database).Collection(collectionLog)
	cursor, err := collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	var messages []entity.LogMessage
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (m *MongoDB) GetOrder(ctx context.Context, order string) (*entity.Order, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "order", Value: order}}
	collection := connection.Database(m.database).Collection(collectionOrders)
	var stored entity.Order
	if err = collection.FindOne(ctx, filter).Decode(&stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (m *MongoDB) GetOrderByPaymentIntent(ctx context.Context, intentId string) (*entity.Order, error) {
	if intentId == "" {
		return nil, nil
	}
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "payment_intent_id", Value: intentId}}
	collection := connection.Database(m.database).Collection(collectionOrders)
	var stored entity.Order
	err = collection.FindOne(ctx, filter).Decode(&stored)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (m *MongoDB) SaveOrder(ctx context.Context, order *entity.Order) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "order", Value: order.Order}}
	set := bson.M{"$set": order}
	collection := connection.Database(m.database).Collection(collectionOrders)
	_, err = collection.UpdateOne(ctx, filter, set, options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	return nil
}

// ConfirmOrder applies the pending→confirmed transition as a single
// conditional update. Concurrent duplicate notifications for one order
// converge here: only the delivery that matches the pending state modifies
// the document, every other one reports false.
func (m *MongoDB) ConfirmOrder(ctx context.Context, order string, authCode string) (bool, error) {
	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionOrders)
	filter := bson.D{{Key: "order", Value: order}, {Key: "status", Value: entity.StatusPending}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: entity.StatusConfirmed},
			{Key: "payment_status", Value: entity.PaymentCompleted},
			{Key: "auth_code", Value: authCode},
			{Key: "time_closed", Value: time.Now()},
		}},
	}
	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// CancelOrder is the failure-side twin of ConfirmOrder, with the same
// conditional semantics.
func (m *MongoDB) CancelOrder(ctx context.Context, order string, paymentStatus string) (bool, error) {
	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionOrders)
	filter := bson.D{{Key: "order", Value: order}, {Key: "status", Value: entity.StatusPending}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: entity.StatusCancelled},
			{Key: "payment_status", Value: paymentStatus},
			{Key: "time_closed", Value: time.Now()},
		}},
	}
	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

func (m *MongoDB) MarkRefund(ctx context.Context, order string, amount int) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionOrders)
	filter := bson.D{{Key: "order", Value: order}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "payment_status", Value: entity.PaymentRefunded},
			{Key: "refund_time", Value: time.Now()},
		}},
		{Key: "$inc", Value: bson.D{
			{Key: "refund_amount", Value: amount},
		}},
	}
	if _, err = collection.UpdateOne(ctx, filter, update); err != nil {
		return err
	}
	return nil
}

func (m *MongoDB) SavePaymentAttempt(ctx context.Context, attempt *entity.PaymentAttempt) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionAttempts)
	_, err = collection.InsertOne(ctx, attempt)
	return err
}

func (m *MongoDB) SavePaymentResult(ctx context.Context, paymentParameters *entity.PaymentParameters) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionNotifications)
	_, err = collection.InsertOne(ctx, paymentParameters)
	return err
}
