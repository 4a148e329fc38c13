/*
 *     Copyright 2024 The AnyPrec Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package training runs the any-precision training loop: a shared model
// is optimized at every configured bit width per batch, with the
// full-precision pass supervising the quantized ones through recursive
// soft targets.
package training

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	logger "github.com/anyprec/anyprec/internal/aplog"
	"github.com/anyprec/anyprec/pkg/nn"
	"github.com/anyprec/anyprec/trainer/config"
	"github.com/anyprec/anyprec/trainer/datasets"
	"github.com/anyprec/anyprec/trainer/metrics"
	"github.com/anyprec/anyprec/trainer/models"
	"github.com/anyprec/anyprec/trainer/optimizer"
	"github.com/anyprec/anyprec/trainer/storage"
)

// Training is the interface used for running a training job.
type Training interface {
	// Serve runs the training loop to completion.
	Serve(ctx context.Context) error
}

type training struct {
	config      *config.Config
	runID       string
	model       models.Model
	optimizer   optimizer.Optimizer
	scheduler   *optimizer.MultiStepLR
	trainLoader *datasets.Loader
	testLoader  *datasets.Loader
	storage     storage.Storage
	startEpoch  int
	bestTop1    map[int]float64
}

// New constructs a training job from the configuration. Resume and
// pretrain checkpoints are applied here, so the returned job starts at
// the right epoch.
func New(cfg *config.Config, store storage.Storage) (Training, error) {
	trainSet, err := datasets.New(cfg.Dataset, datasets.Split(cfg.Dataset.TrainSplit))
	if err != nil {
		return nil, fmt.Errorf("open train split: %w", err)
	}

	testSet, err := datasets.New(cfg.Dataset, datasets.SplitTest)
	if err != nil {
		return nil, fmt.Errorf("open test split: %w", err)
	}

	model, err := models.New(cfg.Model.Name, cfg.Model.BitWidths, trainSet.NumClasses(), cfg.Run.Seed)
	if err != nil {
		return nil, err
	}

	opt, err := optimizer.New(cfg.Optimizer, model.Params())
	if err != nil {
		return nil, err
	}

	t := &training{
		config:    cfg,
		runID:     uuid.NewString(),
		model:     model,
		optimizer: opt,
		scheduler: optimizer.NewMultiStepLR(cfg.Optimizer.LR, cfg.Optimizer.Gamma, cfg.Optimizer.Milestones),
		trainLoader: datasets.NewLoader(
			trainSet, datasets.TrainTransform(), cfg.Dataset.BatchSize, cfg.Dataset.Workers, true, cfg.Run.Seed),
		testLoader: datasets.NewLoader(
			testSet, datasets.EvalTransform(), cfg.Dataset.BatchSize, cfg.Dataset.Workers, false, cfg.Run.Seed),
		storage:    store,
		startEpoch: cfg.Train.StartEpoch,
		bestTop1:   map[int]float64{},
	}

	if cfg.Train.Resume != "" {
		if err := t.resume(cfg.Train.Resume); err != nil {
			return nil, err
		}
	} else if cfg.Train.Pretrain != "" {
		if err := t.pretrain(cfg.Train.Pretrain); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// resume restores model, optimizer and progress from a checkpoint.
func (t *training) resume(path string) error {
	ckpt, err := LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := t.model.LoadState(ckpt.Model, true); err != nil {
		return fmt.Errorf("restore model: %w", err)
	}
	if err := t.optimizer.LoadState(ckpt.Optimizer); err != nil {
		return fmt.Errorf("restore optimizer: %w", err)
	}

	t.runID = ckpt.RunID
	if ckpt.Epoch > t.startEpoch {
		t.startEpoch = ckpt.Epoch
	}
	for bw, top1 := range ckpt.BestTop1 {
		t.bestTop1[bw] = top1
	}

	logger.WithRunID(t.runID).Infof("resumed from %s at epoch %d", path, t.startEpoch)
	return nil
}

// pretrain initializes model weights from a checkpoint, ignoring keys
// the current bit width list does not have.
func (t *training) pretrain(path string) error {
	ckpt, err := LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := t.model.LoadState(ckpt.Model, false); err != nil {
		return fmt.Errorf("load pretrain weights: %w", err)
	}

	logger.WithRunID(t.runID).Infof("initialized weights from %s", path)
	return nil
}

func (t *training) Serve(ctx context.Context) error {
	log := logger.WithRun(t.runID, t.config.Model.Name, t.config.Dataset.Name)
	log.Infof("training bit widths %v for %d epochs", t.model.BitWidths(), t.config.Train.Epochs)

	for epoch := t.startEpoch; epoch < t.config.Train.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lr := t.scheduler.Apply(t.optimizer, epoch)
		metrics.LearningRateGauge.Set(lr)

		start := time.Now()
		if err := t.trainEpoch(ctx, epoch); err != nil {
			return err
		}

		// Both splits are measured with eval mode forward passes, so the
		// train metrics reflect the end-of-epoch weights and running
		// BatchNorm statistics rather than mid-epoch batch statistics.
		trainMeters, err := t.evaluate(ctx, epoch, t.trainLoader)
		if err != nil {
			return err
		}
		testMeters, err := t.evaluate(ctx, epoch, t.testLoader)
		if err != nil {
			return err
		}
		seconds := time.Since(start).Seconds()

		best := t.updateBest(t.model.BitWidths(), testMeters)
		var records []storage.EpochRecord
		for _, bw := range t.model.BitWidths() {
			train, test := trainMeters[bw], testMeters[bw]
			label := strconv.Itoa(bw)

			metrics.TrainLossGauge.WithLabelValues(label).Set(train.Loss.Avg())
			metrics.TestLossGauge.WithLabelValues(label).Set(test.Loss.Avg())
			metrics.TestAccuracyGauge.WithLabelValues(label).Set(test.Top1.Avg())
			metrics.BestAccuracyGauge.WithLabelValues(label).Set(t.bestTop1[bw])

			logger.StatEpoch(t.runID, epoch, "train", bw, lr, train.Loss.Avg(), train.Top1.Avg(), train.Top5.Avg())
			logger.StatEpoch(t.runID, epoch, "test", bw, lr, test.Loss.Avg(), test.Top1.Avg(), test.Top5.Avg())

			logger.WithEpoch(t.runID, epoch).Infof(
				"bit width %d, lr %.4f, train loss %.4f, test loss %.4f, test top1 %.2f, test top5 %.2f, best %.2f",
				bw, lr, train.Loss.Avg(), test.Loss.Avg(), test.Top1.Avg(), test.Top5.Avg(), t.bestTop1[bw])

			records = append(records,
				storage.EpochRecord{
					Epoch: epoch, Split: "train", BitWidth: bw, LR: lr,
					Loss: train.Loss.Avg(), Top1: train.Top1.Avg(), Top5: train.Top5.Avg(), Seconds: seconds,
				},
				storage.EpochRecord{
					Epoch: epoch, Split: "test", BitWidth: bw, LR: lr,
					Loss: test.Loss.Avg(), Top1: test.Top1.Avg(), Top5: test.Top5.Avg(), Seconds: seconds,
				})
		}

		if t.config.Run.Report {
			if err := t.storage.CreateEpochRecords(records); err != nil {
				return fmt.Errorf("append history: %w", err)
			}
		}

		if err := SaveCheckpoint(t.config.Run.ResultsDir, &Checkpoint{
			RunID:     t.runID,
			Epoch:     epoch + 1,
			BestTop1:  t.bestTop1,
			Model:     t.model.State(),
			Optimizer: t.optimizer.State(),
		}, best); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}

		metrics.EpochCount.WithLabelValues(t.config.Model.Name, t.config.Dataset.Name).Inc()
	}

	if t.config.Run.Report {
		summary, err := t.storage.CreateSummary(t.runID, t.config.Run.Project)
		if err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		for _, bws := range summary.BitWidths {
			log.Infof("bit width %d best top1 %.2f at epoch %d", bws.BitWidth, bws.BestTop1, bws.BestEpoch)
		}
	}
	return nil
}

// updateBest folds the epoch's test accuracy into the best-so-far
// table and reports whether this epoch produced a new best model,
// keyed on the full-precision branch.
func (t *training) updateBest(bws []int, testMeters map[int]*bitWidthMeters) bool {
	full := bws[len(bws)-1]
	best := testMeters[full].Top1.Avg() > t.bestTop1[full]
	for _, bw := range bws {
		if top1 := testMeters[bw].Top1.Avg(); top1 > t.bestTop1[bw] {
			t.bestTop1[bw] = top1
		}
	}
	return best
}

// trainEpoch optimizes every bit width on each batch. The
// full-precision pass trains against the labels, and each subsequent
// pass in ascending bit width order distills from the softmax of the
// previous one.
func (t *training) trainEpoch(ctx context.Context, epoch int) error {
	bws := t.model.BitWidths()
	full := bws[len(bws)-1]
	meters := newMeters(bws)

	var bar *progressbar.ProgressBar
	if t.config.Console {
		bar = progressbar.Default(int64(t.trainLoader.Len()), fmt.Sprintf("epoch %d", epoch))
	}

	err := t.trainLoader.ForEach(ctx, epoch, func(i int, batch *datasets.Batch) error {
		n := len(batch.Y)
		t.optimizer.ZeroGrad()

		if err := t.model.SetPrecision(full); err != nil {
			return err
		}
		logits := t.model.Forward(batch.X, true)
		loss, grad := nn.CrossEntropy(logits, batch.Y)
		t.model.Backward(grad)
		meters[full].update(loss, nn.Accuracy(logits, batch.Y, 1, 5), n)

		soft := nn.Softmax(logits)
		for _, bw := range bws {
			if err := t.model.SetPrecision(bw); err != nil {
				return err
			}
			logits := t.model.Forward(batch.X, true)
			loss, grad := nn.SoftCrossEntropy(logits, soft)
			t.model.Backward(grad)
			soft = nn.Softmax(logits)
			meters[bw].update(loss, nn.Accuracy(logits, batch.Y, 1, 5), n)
		}

		t.optimizer.Step()

		metrics.BatchCount.WithLabelValues(t.config.Model.Name, t.config.Dataset.Name).Inc()
		metrics.SampleCount.WithLabelValues(t.config.Model.Name, t.config.Dataset.Name).Add(float64(n))
		if bar != nil {
			_ = bar.Add(1)
		}
		if i%t.config.Train.PrintFreq == 0 {
			logger.WithEpoch(t.runID, epoch).Infof("iter %d/%d, bit width %d loss %.2f, top1 %.2f, top5 %.2f",
				i, t.trainLoader.Len(), full, meters[full].Loss.Val, meters[full].Top1.Val, meters[full].Top5.Val)
		}
		return nil
	})
	if bar != nil {
		_ = bar.Finish()
	}
	return err
}

// evaluate measures loss and accuracy of every bit width over the
// given loader, using running BatchNorm statistics.
func (t *training) evaluate(ctx context.Context, epoch int, loader *datasets.Loader) (map[int]*bitWidthMeters, error) {
	bws := t.model.BitWidths()
	meters := newMeters(bws)

	err := loader.ForEach(ctx, epoch, func(i int, batch *datasets.Batch) error {
		n := len(batch.Y)
		for _, bw := range bws {
			if err := t.model.SetPrecision(bw); err != nil {
				return err
			}
			logits := t.model.Forward(batch.X, false)
			loss, _ := nn.CrossEntropy(logits, batch.Y)
			meters[bw].update(loss, nn.Accuracy(logits, batch.Y, 1, 5), n)
		}
		return nil
	})
	return meters, err
}
