package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/vng_computer/internal/blink"
	"github.com/relabs-tech/vng_computer/internal/config"
)

// displayData holds the latest bus state shown on the panel.
type displayData struct {
	mu sync.RWMutex

	recState     RecordingState
	haveRecState bool

	blinkStats     blink.Stats
	haveBlinkStats bool

	progress     ProtocolProgress
	haveProgress bool
}

// RunDisplay drives the SSD1306 status panel on the goggle frame: recording
// state, blink counters and protocol progress, refreshed on a fixed tick.
func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized on %s", bus)

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &displayData{}

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicRecordingState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var rs RecordingState
		if err := json.Unmarshal(msg.Payload(), &rs); err != nil {
			log.Printf("display: recording state unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.recState = rs
		data.haveRecState = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicRecordingState)

	token = client.Subscribe(cfg.TopicBlinkStats, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st blink.Stats
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Printf("display: blink stats unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.blinkStats = st
		data.haveBlinkStats = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicBlinkStats)

	token = client.Subscribe(cfg.TopicProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p ProtocolProgress
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("display: progress unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.progress = p
		data.haveProgress = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicProgress)

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		// Read data without copying the mutex
		data.mu.RLock()
		snapshot := displayData{
			recState:       data.recState,
			haveRecState:   data.haveRecState,
			blinkStats:     data.blinkStats,
			haveBlinkStats: data.haveBlinkStats,
			progress:       data.progress,
			haveProgress:   data.haveProgress,
		}
		data.mu.RUnlock()

		if err := updateStatusDisplay(dev, &snapshot); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func blankImage() *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}
	return img
}

func newDrawer(img *image1bit.VerticalLSB) *font.Drawer {
	return &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
}

func updateStatusDisplay(dev *ssd1306.Dev, data *displayData) error {
	img := blankImage()
	drawer := newDrawer(img)

	if !data.haveRecState {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("VNG"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return dev.Draw(dev.Bounds(), img, image.Point{})
	}

	// Line 1: recording state and sample count
	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte(fmt.Sprintf("%s %d", data.recState.State, data.recState.Samples)))

	// Line 2/3: blink counters
	if data.haveBlinkStats {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("BL:%3d %4.1f/m",
			data.blinkStats.TotalLeft, data.blinkStats.PerMinuteLeft)))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("BR:%3d %4.1f/m",
			data.blinkStats.TotalRight, data.blinkStats.PerMinuteRight)))
	}

	// Line 4: protocol progress bar
	if data.haveProgress {
		drawer.Dot = fixed.P(0, 52)
		drawer.DrawBytes([]byte(fmt.Sprintf("P:%3.0f%% %5.1fs",
			data.progress.Fraction*100, data.progress.ElapsedSec)))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showSplash(dev *ssd1306.Dev) error {
	img := blankImage()
	drawer := newDrawer(img)

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("VNG Goggles"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Starting up"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
